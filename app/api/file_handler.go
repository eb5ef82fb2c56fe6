package api

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"portfolio-rag/types"
)

// FileHandler drops uploaded documents into the loader's source directory.
// A loader running in watch mode picks them up.
type FileHandler struct {
	sourceDir string
	logger    *slog.Logger
}

func NewFileHandler(sourceDir string) *FileHandler {
	return &FileHandler{
		sourceDir: sourceDir,
		logger:    slog.Default(),
	}
}

func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	name := filepath.Base(file.Filename)
	if _, ok := types.Classify(name); !ok || name == "." || name == string(filepath.Separator) {
		return ErrUnsupportedMedia(name)
	}

	if err := os.MkdirAll(h.sourceDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.sourceDir, name)
	if err := c.SaveFile(file, path); err != nil {
		return err
	}
	h.logger.Info("document uploaded", "file", name, "size", file.Size)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"stored": name})
}
