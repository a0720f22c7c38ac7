package bank

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelanni/preflight/internal/model"
)

// Store is the persistence the importer needs.
type Store interface {
	GetImportedFileHash(path string) (string, error)
	SetImportedFileHash(path, hash string) error
	ImportBank(b model.QuestionBank) error
}

// Status describes what an import did with a file.
type Status string

const (
	StatusImported Status = "imported"
	// StatusUnchanged means the same contents were imported before.
	StatusUnchanged Status = "unchanged"
	// StatusChanged means different contents were imported under the same
	// name before and the file was skipped.
	StatusChanged Status = "changed"
)

// Result reports the outcome of one import.
type Result struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Questions int    `json:"questions"`
}

// ImportFile reads and imports the bank at path. See Import.
func ImportFile(s Store, path string, replaceChanged bool) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Import(s, path, data, replaceChanged)
}

// Import loads a bank unless the same contents were already imported under
// name. A file whose contents changed since its last import is skipped
// unless replaceChanged is set; its questions are then updated in place by id.
func Import(s Store, name string, data []byte, replaceChanged bool) (Result, error) {
	hash := Hash(data)
	storedHash, err := s.GetImportedFileHash(name)
	if err != nil {
		return Result{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("question bank unchanged, skipping", "name", name)
		return Result{Name: name, Status: StatusUnchanged}, nil
	}
	if storedHash != "" && !replaceChanged {
		slog.Warn("question bank changed since last import, skipping to keep existing assessments stable",
			"name", name)
		return Result{Name: name, Status: StatusChanged}, nil
	}

	b, err := Parse(name, data)
	if err != nil {
		return Result{}, err
	}
	if err := s.ImportBank(b); err != nil {
		return Result{}, fmt.Errorf("import %s: %w", name, err)
	}
	if err := s.SetImportedFileHash(name, hash); err != nil {
		return Result{}, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported question bank", "name", name, "questions", len(b.Questions))
	return Result{Name: name, Status: StatusImported, Questions: len(b.Questions)}, nil
}
