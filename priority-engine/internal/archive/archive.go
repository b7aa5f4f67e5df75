// Package archive stores resolved decision cards, with their audit trail, in
// object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/canonical"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

type Archiver interface {
	ArchiveCard(ctx context.Context, card models.DecisionCard, audit []models.CardAuditEntry, history []models.EscalationHistory) (string, error)
}

// Envelope is the archived document.
type Envelope struct {
	Card       models.DecisionCard        `json:"card"`
	Audit      []models.CardAuditEntry    `json:"audit"`
	Escalation []models.EscalationHistory `json:"escalation"`
	ArchivedAt time.Time                  `json:"archivedAt"`
	Digest     string                     `json:"digest"`
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes canonical envelopes to
//
//	s3://<bucket>/<prefix>/decision-cards/<tenant>/YYYY/MM/DD/<cardID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
	now      func() time.Time
}

// NewS3Archiver loads AWS configuration from the environment (AWS_REGION,
// AWS_PROFILE, static keys) and builds a multipart uploader.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return newS3Archiver(manager.NewUploader(client), bucket, prefix), nil
}

func newS3Archiver(u uploader, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: u,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ObjectKey is the storage key for a card. The date partition is the card's
// creation day so every version of a card lands on the same key.
func (s *S3Archiver) ObjectKey(card models.DecisionCard) string {
	year, month, day := card.CreatedAt.UTC().Date()
	return path.Join(s.prefix, "decision-cards", card.TenantID,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		card.ID.String()+".json",
	)
}

// ArchiveCard uploads the envelope and returns its object key.
func (s *S3Archiver) ArchiveCard(ctx context.Context, card models.DecisionCard, audit []models.CardAuditEntry, history []models.EscalationHistory) (string, error) {
	env := Envelope{
		Card:       card,
		Audit:      nonNil(audit),
		Escalation: nonNil(history),
		ArchivedAt: s.now(),
	}
	digest, err := canonical.Digest(struct {
		Card       models.DecisionCard        `json:"card"`
		Audit      []models.CardAuditEntry    `json:"audit"`
		Escalation []models.EscalationHistory `json:"escalation"`
	}{env.Card, env.Audit, env.Escalation})
	if err != nil {
		return "", fmt.Errorf("digest envelope: %w", err)
	}
	env.Digest = digest

	body, err := canonical.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}

	key := s.ObjectKey(card)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"tenant": card.TenantID,
			"status": string(card.Status),
			"digest": digest,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return key, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// NopArchiver discards everything. Used when no bucket is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveCard(ctx context.Context, card models.DecisionCard, audit []models.CardAuditEntry, history []models.EscalationHistory) (string, error) {
	return "", nil
}
