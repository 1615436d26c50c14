package meta

import (
	"context"
	"fmt"
	"net/url"
)

const (
	OpCreateMedia  = "create_media"
	OpPublishMedia = "publish_media"
	OpMediaDetails = "media_details"
)

type PublishResult struct {
	CreationID string
	MediaID    string
}

type MediaDetails struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
	Timestamp string `json:"timestamp"`
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateMedia stages an image container and returns its creation id.
func (c *Client) CreateMedia(ctx context.Context, igUserID, accessToken, imageURL, caption string) (string, error) {
	params := url.Values{}
	params.Set("image_url", imageURL)
	params.Set("caption", caption)
	params.Set("access_token", accessToken)

	var resp idResponse
	if err := c.post(ctx, OpCreateMedia, url.PathEscape(igUserID)+"/media", params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%s: missing creation id", OpCreateMedia)
	}
	return resp.ID, nil
}

// PublishMedia publishes a staged container and returns the media id.
func (c *Client) PublishMedia(ctx context.Context, igUserID, accessToken, creationID string) (string, error) {
	params := url.Values{}
	params.Set("creation_id", creationID)
	params.Set("access_token", accessToken)

	var resp idResponse
	if err := c.post(ctx, OpPublishMedia, url.PathEscape(igUserID)+"/media_publish", params, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%s: missing media id", OpPublishMedia)
	}
	return resp.ID, nil
}

// Publish runs the two-phase create then publish protocol.
func (c *Client) Publish(ctx context.Context, igUserID, accessToken, imageURL, caption string) (*PublishResult, error) {
	creationID, err := c.CreateMedia(ctx, igUserID, accessToken, imageURL, caption)
	if err != nil {
		return nil, err
	}
	mediaID, err := c.PublishMedia(ctx, igUserID, accessToken, creationID)
	if err != nil {
		return nil, err
	}
	return &PublishResult{CreationID: creationID, MediaID: mediaID}, nil
}

func (c *Client) MediaDetails(ctx context.Context, mediaID, accessToken string) (*MediaDetails, error) {
	params := url.Values{}
	params.Set("fields", "id,permalink,timestamp")
	params.Set("access_token", accessToken)

	var details MediaDetails
	if err := c.get(ctx, OpMediaDetails, url.PathEscape(mediaID), params, &details); err != nil {
		return nil, err
	}
	if details.ID == "" {
		details.ID = mediaID
	}
	return &details, nil
}
