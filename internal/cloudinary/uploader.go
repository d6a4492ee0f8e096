package cloudinary

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Instagram rejects non-square media for the basic feed publish path, so
// every image is normalized to a 1080x1080 fill crop at automatic quality.
const instagramTransformation = "c_fill,h_1080,w_1080/q_auto:good"

// Uploader turns raw image bytes into a public HTTPS URL. Handlers depend on
// this interface so tests can swap in a fake.
type Uploader interface {
	UploadImage(ctx context.Context, data []byte) (string, error)
}

// Client uploads through the Cloudinary API with the fixed Instagram
// transformation applied eagerly.
type Client struct {
	cld *cloudinary.Cloudinary
}

// New builds a Client from account credentials.
func New(cloudName, apiKey, apiSecret string) (*Client, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	return &Client{cld: cld}, nil
}

// UploadImage streams the bytes up and returns the transformed secure URL.
func (c *Client) UploadImage(ctx context.Context, data []byte) (string, error) {
	resp, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Transformation: instagramTransformation,
	})
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	if resp.SecureURL == "" {
		return "", fmt.Errorf("cloudinary upload: empty secure_url in response")
	}
	return resp.SecureURL, nil
}
