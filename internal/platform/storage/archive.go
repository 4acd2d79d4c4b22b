package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/googleapi"
)

// ArchivedHeaders are the request headers kept alongside the payload.
var ArchivedHeaders = []string{"Paymongo-Signature", "Content-Type", "User-Agent", "X-Cloud-Trace-Context"}

// WebhookPayload is one verified delivery as received.
type WebhookPayload struct {
	Provider   string
	EventID    string
	EventType  string
	ReceivedAt time.Time
	Headers    http.Header
	Body       []byte
}

type archiveDocument struct {
	Provider   string            `json:"provider"`
	EventID    string            `json:"eventId,omitempty"`
	EventType  string            `json:"eventType,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body"`
}

// ObjectWriter stores one object. Implementations must not overwrite an existing object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error
}

// WebhookArchive writes verified webhook payloads to a bucket for audit and replay.
type WebhookArchive struct {
	writer ObjectWriter
	bucket string
	prefix string
}

func NewWebhookArchive(writer ObjectWriter, bucket, prefix string) (*WebhookArchive, error) {
	if writer == nil {
		return nil, errors.New("storage archive: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archive: bucket is required")
	}
	return &WebhookArchive{writer: writer, bucket: bucket, prefix: prefix}, nil
}

// Archive stores the payload and returns the object name. Redelivery of an event id already
// archived is not an error.
func (a *WebhookArchive) Archive(ctx context.Context, payload WebhookPayload) (string, error) {
	objectID := strings.TrimSpace(payload.EventID)
	if objectID == "" {
		objectID = "unidentified-" + ulid.Make().String()
	}
	received := payload.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	object, err := BuildArchivePath(ArchivePathParams{
		Prefix:     a.prefix,
		Provider:   payload.Provider,
		ReceivedAt: received,
		ObjectID:   objectID,
	})
	if err != nil {
		return "", err
	}

	doc := archiveDocument{
		Provider:   payload.Provider,
		EventID:    payload.EventID,
		EventType:  payload.EventType,
		ReceivedAt: received.UTC(),
		Headers:    pickHeaders(payload.Headers),
		Body:       rawBody(payload.Body),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("storage archive: encode: %w", err)
	}

	metadata := map[string]string{"provider": payload.Provider}
	if payload.EventType != "" {
		metadata["event_type"] = payload.EventType
	}
	if err := a.writer.WriteObject(ctx, a.bucket, object, data, metadata); err != nil {
		if errors.Is(err, ErrObjectExists) {
			return object, nil
		}
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return object, nil
}

func pickHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(ArchivedHeaders))
	for _, name := range ArchivedHeaders {
		if value := headers.Get(name); value != "" {
			out[name] = value
		}
	}
	return out
}

// rawBody keeps valid JSON as-is and quotes anything else so the document stays parseable.
func rawBody(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

var ErrObjectExists = errors.New("storage: object already exists")

// GCSWriter writes objects with a does-not-exist precondition.
type GCSWriter struct {
	client *gcs.Client
}

func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error {
	obj := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return ErrObjectExists
		}
		return err
	}
	return nil
}
