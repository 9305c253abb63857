package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"visionrag/blob"
	"visionrag/store"
	"visionrag/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// NoInformationAnswer is returned when there is nothing to answer from.
const NoInformationAnswer = "No information for this request."

var (
	ErrNoQuestion = errors.New("question is required")
	ErrEmptyFile  = errors.New("file is empty")
	ErrNoFilename = errors.New("filename is required")
)

type Segmenter interface {
	ExtractAndPrepare(ctx context.Context, raw []byte, filename, docID string) (string, []types.Bundle, error)
}

type Embedder interface {
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, contextText, question string) (string, error)
}

type Paraphraser interface {
	Paraphrase(ctx context.Context, question string, n int) ([]string, error)
}

// Upload is a document to ingest. An empty DocID gets a generated one.
type Upload struct {
	Filename string
	Data     []byte
	DocID    string
	Replace  bool
}

// Question is one QA request, optionally carrying a document to ingest first.
type Question struct {
	Text  string
	DocID string
	File  *Upload
}

type Config struct {
	FigureTopK       int
	GenericTopK      int
	StructuralTopK   int
	SubQueryTopK     int
	MaxParaphrases   int
	ContextCharLimit int
}

func DefaultConfig() Config {
	return Config{
		FigureTopK:       6,
		GenericTopK:      8,
		StructuralTopK:   40,
		SubQueryTopK:     15,
		MaxParaphrases:   5,
		ContextCharLimit: 16000,
	}
}

type Deps struct {
	Segmenter   Segmenter
	Embedder    Embedder
	Index       store.IndexGateway
	Documents   store.DocumentStore
	Blobs       blob.Store
	Generator   Generator
	Paraphraser Paraphraser
}

type Pipeline struct {
	Deps
	cfg    Config
	locks  *docLocks
	logger *slog.Logger
	now    func() time.Time
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Deps:   deps,
		cfg:    cfg,
		locks:  newDocLocks(),
		logger: logger,
		now:    time.Now,
	}
}

// Ingest stores, segments, embeds and indexes one document.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*types.Ingested, error) {
	if len(up.Data) == 0 {
		return nil, ErrEmptyFile
	}
	filename := filepath.Base(strings.TrimSpace(up.Filename))
	if filename == "" || filename == "." || filename == "/" {
		return nil, ErrNoFilename
	}
	docID := up.DocID
	if docID == "" {
		docID = uuid.NewString()
	}

	unlock := p.locks.Lock(docID)
	defer unlock()

	start := p.now()
	key := docID + "/" + filename
	locator, err := p.Blobs.Put(ctx, up.Data, key, blob.ContentType(key))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	docID, bundles, err := p.Segmenter.ExtractAndPrepare(ctx, up.Data, filename, docID)
	if err != nil {
		return nil, err
	}

	kept := make([]types.Bundle, 0, len(bundles))
	texts := make([]string, 0, len(bundles))
	for _, b := range bundles {
		if text := b.EmbeddingText(); text != "" {
			kept = append(kept, b)
			texts = append(texts, text)
		}
	}

	vectors, err := p.Embedder.GetEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed bundles: %w", err)
	}

	n := 0
	if len(kept) > 0 {
		n, err = p.Index.UpsertBundles(ctx, docID, kept, vectors)
		if err != nil {
			return nil, fmt.Errorf("upsert bundles: %w", err)
		}
	}

	// Previous entries stay answerable until the new ones are written.
	if up.Replace {
		keep := make([]string, len(kept))
		for i, b := range kept {
			keep[i] = b.EntryID()
		}
		if err := p.Index.DeleteDocumentExcept(ctx, docID, keep); err != nil {
			return nil, fmt.Errorf("drop previous entries: %w", err)
		}
	}

	source := types.SourcePDF
	if len(bundles) == 1 && bundles[0].Type == types.BundleImage {
		source = types.SourceImage
	}
	now := p.now()
	if err := p.Documents.SaveDocument(ctx, types.Document{
		ID:        docID,
		Filename:  filename,
		Locator:   locator,
		Source:    source,
		Bundles:   n,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	p.logger.Info("[INGEST] document indexed",
		"doc_id", docID,
		"filename", filename,
		"bundles", len(bundles),
		"indexed", n,
		"took", p.now().Sub(start),
	)
	return &types.Ingested{DocID: docID, Locator: locator, Filename: filename, Bundles: n}, nil
}

// Answer resolves the document scope, retrieves candidates for the question
// and asks the generator. Missing scope and empty context are answered with
// NoInformationAnswer.
func (p *Pipeline) Answer(ctx context.Context, q Question) (*types.QAResponse, error) {
	question := strings.TrimSpace(q.Text)
	if question == "" {
		return nil, ErrNoQuestion
	}

	resp := &types.QAResponse{DocID: q.DocID, Candidates: []types.Candidate{}}
	if q.File != nil {
		up := *q.File
		if up.DocID == "" {
			up.DocID = q.DocID
		}
		ingested, err := p.Ingest(ctx, up)
		if err != nil {
			return nil, err
		}
		resp.Ingested = ingested
		resp.DocID = ingested.DocID
	}
	if resp.DocID == "" {
		resp.Answer = NoInformationAnswer
		return resp, nil
	}

	unlock := p.locks.RLock(resp.DocID)
	defer unlock()

	qt, figure := Classify(question)
	resp.QueryType = string(qt)

	candidates, err := p.retrieve(ctx, resp.DocID, question, qt)
	if err != nil {
		return nil, err
	}
	if qt == QueryFigure {
		candidates = FilterFigure(candidates, figure)
	}
	resp.Candidates = candidates

	p.logger.Info("[QA] candidates selected",
		"doc_id", resp.DocID,
		"query_type", qt,
		"figure", figure,
		"candidates", len(candidates),
	)

	contextText := AssembleContext(candidates)
	if contextText == "" {
		resp.Answer = NoInformationAnswer
		return resp, nil
	}
	contextText = TruncateContext(contextText, p.cfg.ContextCharLimit)

	answer, err := p.Generator.Generate(ctx, contextText, question)
	if err != nil {
		return nil, err
	}
	resp.Answer = answer
	return resp, nil
}

func (p *Pipeline) retrieve(ctx context.Context, docID, question string, qt QueryType) ([]types.Candidate, error) {
	if qt == QueryStructural {
		return p.retrieveExpanded(ctx, docID, question)
	}

	topK := p.cfg.GenericTopK
	if qt == QueryFigure {
		topK = p.cfg.FigureTopK
	}
	vectors, err := p.Embedder.GetEmbeddings(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	candidates, err := p.Index.Query(ctx, docID, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return candidates, nil
}

// retrieveExpanded queries the original question and its paraphrases
// concurrently and merges the results by best score.
func (p *Pipeline) retrieveExpanded(ctx context.Context, docID, question string) ([]types.Candidate, error) {
	queries := []string{question}
	if p.Paraphraser != nil && p.cfg.MaxParaphrases > 0 {
		paraphrases, err := p.Paraphraser.Paraphrase(ctx, question, p.cfg.MaxParaphrases)
		if err != nil {
			p.logger.Warn("[QA] paraphrasing failed, using the original question only", "doc_id", docID, "err", err)
		}
		if len(paraphrases) > p.cfg.MaxParaphrases {
			paraphrases = paraphrases[:p.cfg.MaxParaphrases]
		}
		queries = append(queries, paraphrases...)
	}

	vectors, err := p.Embedder.GetEmbeddings(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	results := make([][]types.Candidate, len(vectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, vec := range vectors {
		g.Go(func() error {
			res, err := p.Index.Query(gctx, docID, vec, p.cfg.SubQueryTopK)
			if err != nil {
				return fmt.Errorf("query index: %w", err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := MergeByMaxScore(results...)
	if len(merged) > p.cfg.StructuralTopK {
		merged = merged[:p.cfg.StructuralTopK]
	}
	p.logger.Debug("[QA] expanded retrieval", "queries", len(queries), "merged", len(merged))
	return merged, nil
}
