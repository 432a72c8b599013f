package verify

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"liveattend/internal/common"
	"liveattend/internal/faceclient"
)

// FaceChecker is the face service API used by FaceService.
type FaceChecker interface {
	Liveness(ctx context.Context, imageURL string) (*faceclient.LivenessResult, error)
	Verify(ctx context.Context, identity, imageURL string) (*faceclient.VerifyResult, error)
}

// FrameUploader hosts a frame and returns its public URL.
type FrameUploader interface {
	UploadFrame(ctx context.Context, identity string, frame []byte) (string, error)
}

// FaceService verifies the captured frame with the face recognition service.
// Frames are uploaded first when an uploader is set and sent inline as data
// URLs otherwise.
type FaceService struct {
	Face     FaceChecker
	Uploader FrameUploader
}

func (f *FaceService) Check(ctx context.Context, identity string, c Capture) error {
	frame, err := c.Frame(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDeviceUnavailable, err)
	}

	imageURL, err := f.imageURL(ctx, identity, frame)
	if err != nil {
		return err
	}

	live, err := f.Face.Liveness(ctx, imageURL)
	if err != nil {
		return fmt.Errorf("liveness check: %w", err)
	}
	if !live.IsLive {
		return fmt.Errorf("%w: liveness check failed", common.ErrVerificationFailed)
	}

	res, err := f.Face.Verify(ctx, identity, imageURL)
	if err != nil {
		return fmt.Errorf("face verification: %w", err)
	}
	if !res.Verified {
		return fmt.Errorf("%w: similarity %.2f below %.2f", common.ErrVerificationFailed, res.Similarity, res.Threshold)
	}
	return nil
}

func (f *FaceService) imageURL(ctx context.Context, identity string, frame []byte) (string, error) {
	if f.Uploader == nil {
		return "data:" + http.DetectContentType(frame) + ";base64," + base64.StdEncoding.EncodeToString(frame), nil
	}
	url, err := f.Uploader.UploadFrame(ctx, identity, frame)
	if err != nil {
		return "", fmt.Errorf("upload frame: %w", err)
	}
	return url, nil
}
