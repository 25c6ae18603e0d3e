package rekognition

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/smithy-go"
)

var (
	ErrInvalidCredentials = errors.New("rekognition: credentials rejected")
	ErrInvalidImage       = errors.New("rekognition: image rejected")
	ErrThrottled          = errors.New("rekognition: throttled")
)

// apiErrors maps Rekognition error codes onto the package errors. Codes
// not listed pass through unchanged.
var apiErrors = map[string]error{
	"AccessDeniedException":                  ErrInvalidCredentials,
	"UnrecognizedClientException":            ErrInvalidCredentials,
	"InvalidImageFormatException":            ErrInvalidImage,
	"ImageTooLargeException":                 ErrInvalidImage,
	"InvalidParameterException":              ErrInvalidImage,
	"ThrottlingException":                    ErrThrottled,
	"ProvisionedThroughputExceededException": ErrThrottled,
}

type Config struct {
	Region string
	// MinConfidence drops detections scored below it, in [0, 1].
	MinConfidence float64
}

func DefaultConfig() Config {
	return Config{Region: "us-east-1", MinConfidence: 0.5}
}

// faceAPI is the part of *rekognition.Client the detector uses.
type faceAPI interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// NewClient resolves credentials through the AWS default chain.
func NewClient(ctx context.Context, cfg Config) (*rekognition.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return rekognition.NewFromConfig(awsCfg), nil
}

func translateError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if sentinel, ok := apiErrors[apiErr.ErrorCode()]; ok {
		return fmt.Errorf("%w: %s", sentinel, apiErr.ErrorMessage())
	}
	return err
}
