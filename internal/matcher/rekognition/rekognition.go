// Package rekognition implements the face matcher on AWS Rekognition
// collections, one collection per event.
package rekognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/kozaktomas/memento/internal/matcher"
)

// API is the subset of the Rekognition client the matcher uses.
type API interface {
	CreateCollection(ctx context.Context, in *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
	DeleteCollection(ctx context.Context, in *rekognition.DeleteCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.DeleteCollectionOutput, error)
	IndexFaces(ctx context.Context, in *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *rekognition.SearchFacesByImageInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	DeleteFaces(ctx context.Context, in *rekognition.DeleteFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DeleteFacesOutput, error)
}

// Options tune collection naming and search.
type Options struct {
	CollectionPrefix string
	Threshold        float64 // minimum similarity in [0, 1]
	MaxFaces         int
}

// Matcher is a Rekognition-backed matcher.
type Matcher struct {
	api  API
	opts Options
}

// New creates a matcher from an aws.Config
func New(cfg aws.Config, opts Options) *Matcher {
	return NewWithAPI(rekognition.NewFromConfig(cfg), opts)
}

// NewWithAPI creates a matcher over any implementation of API
func NewWithAPI(api API, opts Options) *Matcher {
	if opts.MaxFaces <= 0 {
		opts.MaxFaces = 10
	}
	return &Matcher{api: api, opts: opts}
}

func (m *Matcher) collection(eventID uuid.UUID) *string {
	return aws.String(matcher.CollectionName(m.opts.CollectionPrefix, eventID))
}

func (m *Matcher) CreateCollection(ctx context.Context, eventID uuid.UUID) error {
	_, err := m.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: m.collection(eventID),
	})
	if err != nil && errorCode(err) != "ResourceAlreadyExistsException" {
		return fmt.Errorf("create collection: %w", translate(err))
	}
	return nil
}

func (m *Matcher) DeleteCollection(ctx context.Context, eventID uuid.UUID) error {
	_, err := m.api.DeleteCollection(ctx, &rekognition.DeleteCollectionInput{
		CollectionId: m.collection(eventID),
	})
	if err != nil {
		return fmt.Errorf("delete collection: %w", translate(err))
	}
	return nil
}

func (m *Matcher) IndexFace(ctx context.Context, eventID, userID uuid.UUID, image []byte) (string, error) {
	out, err := m.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:        m.collection(eventID),
		Image:               &types.Image{Bytes: image},
		ExternalImageId:     aws.String(userID.String()),
		MaxFaces:            aws.Int32(1),
		QualityFilter:       types.QualityFilterAuto,
		DetectionAttributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return "", fmt.Errorf("index face: %w", translate(err))
	}
	if len(out.FaceRecords) == 0 || out.FaceRecords[0].Face == nil || out.FaceRecords[0].Face.FaceId == nil {
		return "", matcher.ErrNoFace
	}
	return *out.FaceRecords[0].Face.FaceId, nil
}

func (m *Matcher) SearchFaces(ctx context.Context, eventID uuid.UUID, image []byte) ([]matcher.Candidate, error) {
	out, err := m.api.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       m.collection(eventID),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: aws.Float32(float32(m.opts.Threshold * 100)),
		MaxFaces:           aws.Int32(int32(m.opts.MaxFaces)), //nolint:gosec // bounded by config
	})
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", translate(err))
	}

	candidates := make([]matcher.Candidate, 0, len(out.FaceMatches))
	for _, fm := range out.FaceMatches {
		if fm.Face == nil || fm.Face.FaceId == nil {
			continue
		}
		candidates = append(candidates, matcher.Candidate{
			ExternalFaceID: *fm.Face.FaceId,
			Similarity:     float64(aws.ToFloat32(fm.Similarity)) / 100,
		})
	}
	return candidates, nil
}

func (m *Matcher) DeleteFaces(ctx context.Context, eventID uuid.UUID, faceIDs []string) error {
	if len(faceIDs) == 0 {
		return nil
	}
	_, err := m.api.DeleteFaces(ctx, &rekognition.DeleteFacesInput{
		CollectionId: m.collection(eventID),
		FaceIds:      faceIDs,
	})
	if err != nil {
		return fmt.Errorf("delete faces: %w", translate(err))
	}
	return nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// translate maps Rekognition errors onto the matcher error set.
func translate(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch errorCode(err) {
	case "ThrottlingException", "ProvisionedThroughputExceededException",
		"InternalServerError", "ServiceUnavailableException", "LimitExceededException":
		return fmt.Errorf("%w: %w", matcher.ErrUnavailable, err)
	case "InvalidParameterException":
		// Raised when the image has no face Rekognition can use.
		return fmt.Errorf("%w: %w", matcher.ErrNoFace, err)
	case "InvalidImageFormatException", "ImageTooLargeException":
		return fmt.Errorf("%w: %w", matcher.ErrInvalidImage, err)
	case "ResourceNotFoundException":
		return fmt.Errorf("%w: %w", matcher.ErrCollectionNotFound, err)
	case "":
		// Transport failures and timeouts never reached the service.
		return fmt.Errorf("%w: %w", matcher.ErrUnavailable, err)
	}
	return err
}

var _ matcher.Matcher = (*Matcher)(nil)
