// Package publish uploads finished videos to YouTube through the Data API.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/Y-Kanekoo/ai-shorts-factory/config"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/model"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/retrier"
)

// Metadata describes the video listing.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}

// Uploader publishes videos with OAuth refresh-token credentials.
type Uploader struct {
	cfg    config.PublishConfig
	logger *log.Logger

	// newService is swapped in tests to point at a fake API server.
	newService func(ctx context.Context) (*youtube.Service, error)
}

// New constructs an Uploader from configuration.
func New(cfg config.PublishConfig, logger *log.Logger) *Uploader {
	if logger == nil {
		logger = log.New(log.Writer(), "[PUBLISH] ", log.LstdFlags)
	}
	u := &Uploader{cfg: cfg, logger: logger}
	u.newService = u.authenticatedService
	return u
}

func (u *Uploader) authenticatedService(ctx context.Context) (*youtube.Service, error) {
	if u.cfg.ClientID == "" || u.cfg.ClientSecret == "" || u.cfg.RefreshToken == "" {
		return nil, retrier.Permanent("missing_credentials",
			fmt.Errorf("publish client_id, client_secret, and refresh_token are required"))
	}
	conf := &oauth2.Config{
		ClientID:     u.cfg.ClientID,
		ClientSecret: u.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{RefreshToken: u.cfg.RefreshToken}
	return youtube.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, token)))
}

// Upload publishes the video file and returns the receipt.
func (u *Uploader) Upload(ctx context.Context, videoFile string, meta Metadata) (*model.PublishReceipt, error) {
	if strings.TrimSpace(meta.Title) == "" {
		return nil, retrier.Permanent("missing_title", fmt.Errorf("video title is required"))
	}
	svc, err := u.newService(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return nil, retrier.Permanent("missing_video", fmt.Errorf("open video file: %w", err))
	}
	defer f.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryId:  u.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           u.cfg.Privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	u.logger.Printf("uploading %q (%s)", meta.Title, videoFile)
	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)
	uploaded, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyAPIError(err)
	}

	receipt := &model.PublishReceipt{
		VideoID:  uploaded.Id,
		VideoURL: fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}
	u.logger.Printf("uploaded video %s", receipt.VideoID)
	return receipt, nil
}

// classifyAPIError maps API failures onto the retry taxonomy: throttling
// and server faults retry, quota and auth problems do not.
func classifyAPIError(err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		if ge.Code == 429 || ge.Code >= 500 {
			return retrier.Transient(fmt.Sprintf("youtube HTTP %d", ge.Code), err)
		}
		return retrier.Permanent(fmt.Sprintf("youtube HTTP %d", ge.Code), err)
	}
	return err
}
