package export

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/domain/repository"
)

// ExportRepositoryImpl implementa o ExportRepository.
type ExportRepositoryImpl struct{}

// NewExportRepository cria uma nova implementação do ExportRepository.
func NewExportRepository() repository.ExportRepository {
	return &ExportRepositoryImpl{}
}

// Encode transmite as entidades para w como um array JSON.
func (r *ExportRepositoryImpl) Encode(w io.Writer, seq iter.Seq2[entity.Entity, error]) (int, error) {
	return Encode(w, seq)
}

// ExportToJSON grava as entidades em um arquivo com carimbo de data/hora.
// Se a sequência falhar antes da primeira entidade, o arquivo é removido.
func (r *ExportRepositoryImpl) ExportToJSON(seq iter.Seq2[entity.Entity, error], filename, outputDir string) (string, int, error) {
	outputFilename, err := generateFilename(filename, outputDir, "json")
	if err != nil {
		return "", 0, err
	}

	file, err := os.Create(outputFilename)
	if err != nil {
		return "", 0, fmt.Errorf("error creating JSON file: %w", err)
	}

	w := bufio.NewWriter(file)
	n, encErr := Encode(w, seq)
	if flushErr := w.Flush(); flushErr != nil && encErr == nil {
		encErr = fmt.Errorf("error writing JSON file: %w", flushErr)
	}
	if closeErr := file.Close(); closeErr != nil && encErr == nil {
		encErr = fmt.Errorf("error closing JSON file: %w", closeErr)
	}

	if encErr != nil && n == 0 {
		_ = os.Remove(outputFilename)
		return "", 0, encErr
	}

	path, err := filepath.Abs(outputFilename)
	if err != nil {
		return "", n, err
	}
	return path, n, encErr
}

func generateFilename(base, dir, ext string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("could not get current working directory: %w", err)
		}
		dir = cwd
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory '%s': %w", dir, err)
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.%s", base, timestamp, ext)
	return filepath.Join(dir, filename), nil
}
