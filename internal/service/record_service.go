package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"alcyxob/filemanager/internal/config"
	"alcyxob/filemanager/internal/domain"
	"alcyxob/filemanager/internal/filemanager"
	"alcyxob/filemanager/internal/logging"
	"alcyxob/filemanager/internal/payload"
	"alcyxob/filemanager/internal/repository"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// --- Error Definitions ---
var (
	ErrUnknownKind      = errors.New("unknown record kind")
	ErrRecordNotFound   = errors.New("record not found")
	ErrValidationFailed = errors.New("record validation failed")
)

// dataPrefix roots configured field paths inside Record.Data.
const dataPrefix = "data."

// RecordWithUploads is a saved record plus the URLs its new files must be
// uploaded to, keyed by field path inside the record data.
type RecordWithUploads struct {
	Record     *domain.Record    `json:"record"`
	UploadURLs map[string]string `json:"uploadUrls"`
}

type RecordService interface {
	Kinds() []string
	CreateRecord(ctx context.Context, kind, createdBy string, data map[string]any) (*RecordWithUploads, error)
	GetRecord(ctx context.Context, kind string, id primitive.ObjectID) (*domain.Record, error)
	ListRecords(ctx context.Context, kind string) ([]domain.Record, error)
	UpdateRecord(ctx context.Context, kind string, id primitive.ObjectID, data map[string]any) (*RecordWithUploads, error)
	DeleteRecord(ctx context.Context, kind string, id primitive.ObjectID) error
}

// recordService implements the RecordService interface.
type recordService struct {
	recordRepo repository.RecordRepository
	files      *filemanager.Manager
	fileFields map[string][]string // kind -> field paths rooted at the record
	log        *logrus.Entry
}

// NewRecordService validates the configured field paths of every kind.
func NewRecordService(recordRepo repository.RecordRepository, files *filemanager.Manager, kinds map[string]config.KindConfig) (RecordService, error) {
	fileFields := make(map[string][]string, len(kinds))
	for kind, kc := range kinds {
		if _, err := payload.ParseFieldSpecs(kc.FileFields); err != nil {
			return nil, fmt.Errorf("kind %s: %w", kind, err)
		}
		rooted := make([]string, len(kc.FileFields))
		for i, f := range kc.FileFields {
			rooted[i] = dataPrefix + f
		}
		fileFields[kind] = rooted
	}
	return &recordService{
		recordRepo: recordRepo,
		files:      files,
		fileFields: fileFields,
		log:        logrus.WithField("component", "service.records"),
	}, nil
}

func (s *recordService) Kinds() []string {
	kinds := make([]string, 0, len(s.fileFields))
	for k := range s.fileFields {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (s *recordService) fieldsFor(kind string) ([]string, error) {
	fields, ok := s.fileFields[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return fields, nil
}

// CreateRecord swaps every file name in data for a new object key, saves
// the record and returns the upload URLs for those keys.
func (s *recordService) CreateRecord(ctx context.Context, kind, createdBy string, data map[string]any) (*RecordWithUploads, error) {
	fields, err := s.fieldsFor(kind)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrValidationFailed
	}

	stripDisplayURLs(data, fields)
	record := &domain.Record{Kind: kind, Data: data, CreatedBy: createdBy}
	res, err := s.files.CreateFilesFromPayload(ctx, payload.NewDocument(record), fields)
	if err != nil {
		return nil, fmt.Errorf("issue upload urls: %w", err)
	}

	if _, err := s.recordRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	logging.Scoped(ctx, s.log).WithFields(logrus.Fields{"kind": kind, "id": record.ID.Hex(), "uploads": len(res.UploadURLs)}).Info("record created")

	if err := plainData(record); err != nil {
		return nil, err
	}
	return &RecordWithUploads{Record: record, UploadURLs: trimDataPrefix(res.UploadURLs)}, nil
}

// GetRecord returns the record with a "<field>_url" download URL next to
// each file reference.
func (s *recordService) GetRecord(ctx context.Context, kind string, id primitive.ObjectID) (*domain.Record, error) {
	fields, err := s.fieldsFor(kind)
	if err != nil {
		return nil, err
	}
	record, err := s.getRecord(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	view, err := s.files.AppendFileURLs(ctx, payload.NewDocument(record), fields)
	if err != nil {
		return nil, fmt.Errorf("resolve download urls: %w", err)
	}
	record.Data = viewData(view)
	return record, nil
}

// ListRecords returns every record of kind, annotated like GetRecord.
func (s *recordService) ListRecords(ctx context.Context, kind string) ([]domain.Record, error) {
	fields, err := s.fieldsFor(kind)
	if err != nil {
		return nil, err
	}
	records, err := s.recordRepo.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}

	items := make([]payload.Payload, len(records))
	for i := range records {
		items[i] = payload.NewDocument(&records[i])
	}
	views, err := s.files.AppendFileURLsAll(ctx, items, fields)
	if err != nil {
		return nil, fmt.Errorf("resolve download urls: %w", err)
	}
	for i := range records {
		records[i].Data = viewData(views[i])
	}
	return records, nil
}

// UpdateRecord replaces the record's data. Changed file names get new
// object keys and upload URLs; replaced and cleared files are deleted.
func (s *recordService) UpdateRecord(ctx context.Context, kind string, id primitive.ObjectID, data map[string]any) (*RecordWithUploads, error) {
	fields, err := s.fieldsFor(kind)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrValidationFailed
	}
	existing, err := s.getRecord(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	stripDisplayURLs(data, fields)

	updated := &domain.Record{
		ID:        existing.ID,
		Kind:      existing.Kind,
		Data:      data,
		CreatedBy: existing.CreatedBy,
		CreatedAt: existing.CreatedAt,
	}
	res, err := s.files.UpdateFilesFromPayload(ctx, payload.NewDocument(updated), payload.NewDocument(existing), fields)
	if err != nil {
		return nil, fmt.Errorf("sync files: %w", err)
	}

	if err := s.recordRepo.Update(ctx, updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	logging.Scoped(ctx, s.log).WithFields(logrus.Fields{"kind": kind, "id": id.Hex(), "uploads": len(res.UploadURLs)}).Info("record updated")

	if err := plainData(updated); err != nil {
		return nil, err
	}
	return &RecordWithUploads{Record: updated, UploadURLs: trimDataPrefix(res.UploadURLs)}, nil
}

// DeleteRecord deletes the record's files, then the record.
func (s *recordService) DeleteRecord(ctx context.Context, kind string, id primitive.ObjectID) error {
	fields, err := s.fieldsFor(kind)
	if err != nil {
		return err
	}
	record, err := s.getRecord(ctx, kind, id)
	if err != nil {
		return err
	}

	if err := s.files.DeleteFilesFromPayload(ctx, payload.NewDocument(record), fields); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	if err := s.recordRepo.Delete(ctx, kind, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	logging.Scoped(ctx, s.log).WithFields(logrus.Fields{"kind": kind, "id": id.Hex()}).Info("record deleted")
	return nil
}

func (s *recordService) getRecord(ctx context.Context, kind string, id primitive.ObjectID) (*domain.Record, error) {
	record, err := s.recordRepo.GetByID(ctx, kind, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// plainData rewrites record.Data into plain maps and slices so it encodes
// cleanly as JSON after a BSON round trip.
func plainData(record *domain.Record) error {
	if record.Data == nil {
		return nil
	}
	data, err := payload.Plain(record.Data)
	if err != nil {
		return err
	}
	record.Data = data
	return nil
}

// stripDisplayURLs drops "<field>_url" keys a client echoed back from a
// read. Display URLs expire and are rebuilt on every read, so they are
// never stored.
func stripDisplayURLs(data map[string]any, fields []string) {
	specs, err := payload.ParseFieldSpecs(fields)
	if err != nil {
		return // checked in NewRecordService
	}
	root := map[string]any{"data": data}
	for _, spec := range specs {
		for _, path := range spec.Candidates(root) {
			payload.RemoveDisplayURL(root, path)
		}
	}
}

func viewData(view map[string]any) map[string]any {
	data, _ := view["data"].(map[string]any)
	return data
}

func trimDataPrefix(urls map[string]string) map[string]string {
	out := make(map[string]string, len(urls))
	for k, v := range urls {
		out[strings.TrimPrefix(k, dataPrefix)] = v
	}
	return out
}
