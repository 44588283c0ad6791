// Package bulkpayments implements the Bulk Payments use-case service
// (§4.5.2): CSV-driven bulk payment file submission with a per-row IBAN
// structural check and an integrity-mode-aware acceptance waterfall.
package bulkpayments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/R3E-Network/service_layer/internal/platform/errors"
	"github.com/R3E-Network/service_layer/internal/usecase"
)

const RequiredScope = "bulk-payment"

// IntegrityMode governs how a file with any rejected row is finalized.
type IntegrityMode string

const (
	ModeBestEffort    IntegrityMode = "BEST_EFFORT"
	ModeFullRejection IntegrityMode = "FULL_REJECTION"
)

// Status of a BulkFile.
type Status string

const (
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusPartiallyAccepted Status = "PARTIALLY_ACCEPTED"
	StatusRejected          Status = "REJECTED"
)

// Row is one parsed payment instruction.
type Row struct {
	InstructionID string
	PayeeIBAN     string
	Amount        string
	Accepted      bool
	RejectReason  string
}

// BulkFile is the §3 BulkFile entity.
type BulkFile struct {
	FileID           string
	ConsentID        string
	ParticipantID    string
	IntegrityMode    IntegrityMode
	TotalCount       int
	AcceptedCount    int
	RejectedCount    int
	TotalAmount      string
	Status           Status
	TargetStatus     Status
	PollsObserved    int
	StatusPollsToComplete int
	CreatedAt        time.Time
	Rows             []Row
}

// IsTerminal reports whether status is immutable (§8 invariant 4).
func (f *BulkFile) IsTerminal() bool {
	switch f.Status {
	case StatusCompleted, StatusRejected, StatusPartiallyAccepted:
		return true
	default:
		return false
	}
}

// Repository persists BulkFile state.
type Repository interface {
	Save(ctx context.Context, file *BulkFile) error
	Get(ctx context.Context, fileID string) (*BulkFile, error)
}

// Settings tunes file submission limits.
type Settings struct {
	MaxFileSizeBytes      int
	StatusPollsToComplete int
}

// Service implements the bulk-payments use-case (§4.5.2).
type Service struct {
	repo     Repository
	consents usecase.ConsentLoader
	settings Settings
}

// New constructs a Service.
func New(repo Repository, consents usecase.ConsentLoader, settings Settings) *Service {
	if settings.MaxFileSizeBytes <= 0 {
		settings.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	if settings.StatusPollsToComplete <= 0 {
		settings.StatusPollsToComplete = 3
	}
	return &Service{repo: repo, consents: consents, settings: settings}
}

// SubmitFileRequest carries the inbound submission payload.
type SubmitFileRequest struct {
	FileID        string
	ConsentID     string
	ParticipantID string
	FileName      string
	IntegrityMode IntegrityMode
	FileContent   []byte
	FileHash      string
}

var ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)

// validIBAN applies the §4.5.2 structural check: 2 letters + 2 digits,
// overall length 15-34, alphanumeric.
func validIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	return ibanPattern.MatchString(iban)
}

// SubmitFile validates, parses, and waterfalls a bulk payment file,
// persisting it as PROCESSING (§4.5.2).
func (s *Service) SubmitFile(ctx context.Context, principal usecase.Principal, req SubmitFileRequest, now time.Time) (*BulkFile, error) {
	c, err := s.consents.Load(ctx, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if err := usecase.AuthorizeConsent(c, principal, RequiredScope, "", now); err != nil {
		return nil, err
	}

	if len(req.FileContent) == 0 {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "fileContent must not be empty")
	}
	if len(req.FileContent) > s.settings.MaxFileSizeBytes {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "fileContent exceeds the maximum allowed size")
	}

	sum := sha256.Sum256(req.FileContent)
	if hex.EncodeToString(sum[:]) != strings.ToLower(req.FileHash) {
		return nil, platformerrors.Validation("INTEGRITY_FAILURE", "fileHash does not match SHA-256(fileContent)")
	}

	rows, err := parseCSV(req.FileContent)
	if err != nil {
		return nil, err
	}

	waterfall(rows, req.IntegrityMode)

	file := &BulkFile{
		FileID:                req.FileID,
		ConsentID:             req.ConsentID,
		ParticipantID:         req.ParticipantID,
		IntegrityMode:         req.IntegrityMode,
		TotalCount:            len(rows),
		Status:                StatusProcessing,
		TargetStatus:          targetStatus(rows, req.IntegrityMode),
		StatusPollsToComplete: s.settings.StatusPollsToComplete,
		CreatedAt:             now,
		Rows:                  rows,
	}
	for _, r := range rows {
		if r.Accepted {
			file.AcceptedCount++
		} else {
			file.RejectedCount++
		}
	}

	if err := s.repo.Save(ctx, file); err != nil {
		return nil, platformerrors.Transient("BULK_FILE_SAVE_FAILED", "failed to persist bulk file", err)
	}
	return file, nil
}

func parseCSV(content []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", fmt.Sprintf("malformed CSV: %v", err))
	}
	if len(records) == 0 {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "file contains no rows")
	}

	header := records[0]
	if len(header) != 3 || header[0] != "instruction_id" || header[1] != "payee_iban" || header[2] != "amount" {
		return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "expected header instruction_id,payee_iban,amount")
	}

	var rows []Row
	for _, record := range records[1:] {
		if len(record) != 3 {
			return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "every row must have three columns")
		}
		instructionID, payeeIBAN, amountStr := strings.TrimSpace(record[0]), strings.TrimSpace(record[1]), strings.TrimSpace(record[2])
		if instructionID == "" || payeeIBAN == "" || amountStr == "" {
			return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", "every column must be non-empty")
		}
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil || amount <= 0 {
			return nil, platformerrors.Validation("SCHEMA_VALIDATION_FAILED", fmt.Sprintf("invalid amount %q", amountStr))
		}

		row := Row{InstructionID: instructionID, PayeeIBAN: payeeIBAN, Amount: amountStr}
		if !validIBAN(payeeIBAN) {
			row.RejectReason = "Invalid IBAN"
		} else {
			row.Accepted = true
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// waterfall applies FULL_REJECTION semantics: any rejection rejects the
// whole file (§4.5.2).
func waterfall(rows []Row, mode IntegrityMode) {
	if mode != ModeFullRejection {
		return
	}
	anyRejected := false
	for _, r := range rows {
		if !r.Accepted {
			anyRejected = true
			break
		}
	}
	if !anyRejected {
		return
	}
	for i := range rows {
		rows[i].Accepted = false
		if rows[i].RejectReason == "" {
			rows[i].RejectReason = "file rejected under FULL_REJECTION integrity mode"
		}
	}
}

func targetStatus(rows []Row, mode IntegrityMode) Status {
	if mode == ModeFullRejection {
		for _, r := range rows {
			if !r.Accepted {
				return StatusRejected
			}
		}
	}
	accepted, rejected := 0, 0
	for _, r := range rows {
		if r.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
	switch {
	case rejected == 0:
		return StatusCompleted
	case accepted == 0:
		return StatusRejected
	default:
		return StatusPartiallyAccepted
	}
}

// GetFileStatus advances a PROCESSING file deterministically toward its
// targetStatus after statusPollsToComplete observations, simulating async
// settlement (§4.5.2). Terminal statuses are never mutated (§8 invariant 4).
func (s *Service) GetFileStatus(ctx context.Context, fileID string) (*BulkFile, error) {
	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, platformerrors.ResourceNotFound("bulkFile", fileID)
	}
	if file.IsTerminal() {
		return file, nil
	}

	file.PollsObserved++
	if file.PollsObserved >= file.StatusPollsToComplete {
		file.Status = file.TargetStatus
		if err := s.repo.Save(ctx, file); err != nil {
			return nil, platformerrors.Transient("BULK_FILE_SAVE_FAILED", "failed to persist bulk file transition", err)
		}
	}
	return file, nil
}

// GetFileReport returns the row-level report for a file.
func (s *Service) GetFileReport(ctx context.Context, fileID string) (*BulkFile, error) {
	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, platformerrors.ResourceNotFound("bulkFile", fileID)
	}
	return file, nil
}
