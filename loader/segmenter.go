package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"visionrag/blob"
	"visionrag/model"
	"visionrag/types"

	"github.com/google/uuid"
)

var ErrExtraction = errors.New("document extraction failed")

var (
	figureCaptionRe = regexp.MustCompile(`(?i)figure\s*(\d+)\s*:`)
	figureRefRe     = regexp.MustCompile(`(?i)figure\s*(\d+)`)
)

var rasterExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsRaster reports whether the filename names a raster image.
func IsRaster(filename string) bool {
	return rasterExts[strings.ToLower(filepath.Ext(filename))]
}

type SegmentConfig struct {
	ChunkSize    int
	ChunkOverlap int
	PresignTTL   time.Duration
}

// Segmenter turns uploaded bytes into bundles. Images referenced by figure
// captions are stored and described by the vision model.
type Segmenter struct {
	blobs  blob.Store
	vision model.VisionModel
	reader PDFReader
	cfg    SegmentConfig
	logger *slog.Logger
}

func NewSegmenter(blobs blob.Store, vision model.VisionModel, cfg SegmentConfig, logger *slog.Logger) *Segmenter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		blobs:  blobs,
		vision: vision,
		reader: PDFContentReader{},
		cfg:    cfg,
		logger: logger,
	}
}

// WithPDFReader replaces the PDF extraction backend.
func (s *Segmenter) WithPDFReader(r PDFReader) *Segmenter {
	s.reader = r
	return s
}

// ExtractAndPrepare returns the resolved document id and its bundles. A new
// id is generated when docID is empty.
func (s *Segmenter) ExtractAndPrepare(ctx context.Context, raw []byte, filename, docID string) (string, []types.Bundle, error) {
	if docID == "" {
		docID = uuid.NewString()
	}

	var (
		bundles []types.Bundle
		err     error
	)
	if IsRaster(filename) {
		bundles, err = s.segmentImage(ctx, raw, filename, docID)
	} else {
		bundles, err = s.segmentPDF(ctx, raw, filename, docID)
	}
	if err != nil {
		return docID, nil, err
	}

	for i := range bundles {
		if bundles[i].ID == "" {
			bundles[i].ID = uuid.NewString()
		}
		bundles[i].DocID = docID
	}
	return docID, bundles, nil
}

func (s *Segmenter) segmentImage(ctx context.Context, raw []byte, filename, docID string) ([]types.Bundle, error) {
	bundleID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	key := fmt.Sprintf("%s/images/%s%s", docID, bundleID, ext)

	locator, err := s.blobs.Put(ctx, raw, key, blob.ContentType(key))
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	b := types.Bundle{
		ID:      bundleID,
		DocID:   docID,
		Type:    types.BundleImage,
		Content: locator,
		Metadata: types.BundleMetadata{
			ImageLocators: []string{locator},
			Filename:      filepath.Base(filename),
		},
	}
	if s.vision != nil {
		desc, err := s.describe(ctx, locator)
		if err != nil {
			return nil, err
		}
		b.Metadata.Description = desc
	}
	return []types.Bundle{b}, nil
}

type figureSpan struct {
	number     int
	start, end int
}

func (s *Segmenter) segmentPDF(ctx context.Context, raw []byte, filename, docID string) ([]types.Bundle, error) {
	pages, err := s.reader.PageText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, filename, err)
	}

	full, offsets := joinPages(pages)
	spans := findFigureSpans(full)

	figures := make(map[int]*types.Bundle, len(spans))
	order := make([]int, 0, len(spans))
	for _, sp := range spans {
		b := &types.Bundle{
			ID:      uuid.NewString(),
			DocID:   docID,
			Type:    types.BundleFigure,
			Caption: strings.TrimSpace(full[sp.start:sp.end]),
			Page:    types.IntPtr(pageOf(offsets, sp.start) + 1),
			Metadata: types.BundleMetadata{
				FigureNumber: types.IntPtr(sp.number),
				Filename:     filepath.Base(filename),
			},
		}
		figures[sp.number] = b
		order = append(order, sp.number)
	}

	if len(figures) > 0 {
		if err := s.attachFigureImages(ctx, raw, pages, docID, figures); err != nil {
			return nil, err
		}
	}

	var bundles []types.Bundle
	chunkIndex := 0
	for i, text := range excise(full, offsets, spans) {
		for _, chunk := range ChunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap) {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			bundles = append(bundles, types.Bundle{
				ID:      uuid.NewString(),
				DocID:   docID,
				Type:    types.BundleText,
				Content: chunk,
				Page:    types.IntPtr(i + 1),
				Metadata: types.BundleMetadata{
					ChunkIndex: types.IntPtr(chunkIndex),
					Filename:   filepath.Base(filename),
				},
			})
			chunkIndex++
		}
	}
	for _, n := range order {
		bundles = append(bundles, *figures[n])
	}

	s.logger.Info("[SEGMENTER] document segmented",
		"doc_id", docID,
		"pages", len(pages),
		"text_bundles", chunkIndex,
		"figure_bundles", len(order),
	)
	return bundles, nil
}

// attachFigureImages stores the images of every page that references a known
// figure number and appends their descriptions to those figures. Each image
// is stored and described once.
func (s *Segmenter) attachFigureImages(ctx context.Context, raw []byte, pages []string, docID string, figures map[int]*types.Bundle) error {
	images, err := s.reader.PageImages(raw)
	if err != nil {
		s.logger.Warn("[SEGMENTER] image extraction failed, figures keep captions only", "doc_id", docID, "err", err)
		return nil
	}

	for i, text := range pages {
		pageNr := i + 1
		refs := referencedFigures(text, figures)
		if len(refs) == 0 {
			continue
		}
		imgs := images[pageNr]
		if len(imgs) == 0 {
			continue
		}

		for _, img := range imgs {
			ext := strings.TrimPrefix(strings.ToLower(img.Ext), ".")
			if ext == "" {
				ext = "png"
			}
			key := fmt.Sprintf("%s/figures/%s.%s", docID, uuid.NewString(), ext)
			locator, err := s.blobs.Put(ctx, img.Data, key, blob.ContentType(key))
			if err != nil {
				return fmt.Errorf("store figure image: %w", err)
			}

			desc := ""
			if s.vision != nil {
				desc, err = s.describe(ctx, locator)
				if err != nil {
					return err
				}
			}

			for _, n := range refs {
				fig := figures[n]
				fig.Metadata.ImageLocators = append(fig.Metadata.ImageLocators, locator)
				if desc == "" {
					continue
				}
				if fig.Content != "" {
					fig.Content += "\n\n"
				}
				fig.Content += desc
			}
		}
	}
	return nil
}

func (s *Segmenter) describe(ctx context.Context, locator string) (string, error) {
	signed, err := s.blobs.Presign(ctx, locator, s.cfg.PresignTTL)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", locator, err)
	}
	desc, err := s.vision.Describe(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", locator, err)
	}
	return desc, nil
}

// ChunkText splits text into windows of size runes that overlap by overlap
// runes. The last window ends at the end of the text.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// joinPages concatenates page texts with a newline and returns the byte
// offset at which each page starts.
func joinPages(pages []string) (string, []int) {
	var b strings.Builder
	offsets := make([]int, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteByte('\n')
		}
		offsets[i] = b.Len()
		b.WriteString(p)
	}
	return b.String(), offsets
}

func pageOf(offsets []int, pos int) int {
	return max(sort.SearchInts(offsets, pos+1)-1, 0)
}

// findFigureSpans locates "Figure N:" markers. A span runs to the next
// marker or the end of the text. Repeated numbers keep their first span and
// later occurrences stay in the running text.
func findFigureSpans(full string) []figureSpan {
	var markers []figureSpan
	for _, m := range figureCaptionRe.FindAllStringSubmatchIndex(full, -1) {
		n, err := strconv.Atoi(full[m[2]:m[3]])
		if err != nil || !markerBoundary(full, m[0]) {
			continue
		}
		markers = append(markers, figureSpan{number: n, start: m[0]})
	}

	seen := make(map[int]bool, len(markers))
	spans := make([]figureSpan, 0, len(markers))
	for i, sp := range markers {
		sp.end = len(full)
		if i+1 < len(markers) {
			sp.end = markers[i+1].start
		}
		if seen[sp.number] {
			continue
		}
		seen[sp.number] = true
		spans = append(spans, sp)
	}
	return spans
}

// markerBoundary rejects markers glued to a preceding word ("Subfigure 2:").
func markerBoundary(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// excise removes figure spans from the full text and returns what is left
// of every page.
func excise(full string, offsets []int, spans []figureSpan) []string {
	out := make([]string, len(offsets))
	for i, start := range offsets {
		end := len(full)
		if i+1 < len(offsets) {
			end = offsets[i+1] - 1
		}
		var b strings.Builder
		pos := start
		for _, sp := range spans {
			if sp.end <= pos || sp.start >= end {
				continue
			}
			if sp.start > pos {
				b.WriteString(full[pos:sp.start])
			}
			pos = max(pos, min(sp.end, end))
		}
		if pos < end {
			b.WriteString(full[pos:end])
		}
		out[i] = b.String()
	}
	return out
}

func referencedFigures(text string, figures map[int]*types.Bundle) []int {
	var refs []int
	seen := make(map[int]bool)
	for _, m := range figureRefRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		if _, ok := figures[n]; !ok {
			continue
		}
		seen[n] = true
		refs = append(refs, n)
	}
	return refs
}
