package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/logging"
)

// ingestLine is one JSONL record in an ingest input file.
type ingestLine struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// NewIngestCmd constructs the `elevate ingest` command, which embeds and
// stores documents from JSONL files.
func NewIngestCmd() *cobra.Command {
	var files []string
	var contentType string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge store",
		Long: `Embed and store documents from JSONL input files.

Each input line is a JSON object with a "text" field and an optional
"metadata" object:

  {"text": "Kubernetes pods share a network namespace", "metadata": {"source": "k8s-docs", "lang": "en"}}

Documents are embedded in parallel batches and appended to the vector store
at VECTOR_DB_PATH (default: ~/.elevate/db). Every batch is recorded in the
ingestion journal.

Examples:
  elevate ingest --file notes.jsonl
  elevate ingest --file docs.jsonl --file faq.jsonl --content-type text
  EMBEDDING_PROVIDER=ollama elevate ingest --file corpus.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}

			store, _, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = store.Close() }()

			jr, closeJournal := openJournal(log)
			defer closeJournal()

			total := 0
			for _, path := range files {
				texts, metas, err := readJSONL(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				if contentType != "" {
					for _, m := range metas {
						if _, ok := m["content_type"]; !ok {
							m["content_type"] = contentType
						}
					}
				}
				log.Info("ingesting file", slog.String("path", path), slog.Int("items", len(texts)))

				start := time.Now()
				ids, err := store.Add(ctx, texts, metas)
				elapsed := time.Since(start)

				if jr != nil {
					entry := journal.Entry{
						Source:   path,
						Items:    len(ids),
						Status:   journal.StatusOK,
						Duration: elapsed,
					}
					if err != nil {
						entry.Status = journal.StatusFailed
						entry.Error = err.Error()
					}
					if jerr := jr.Record(ctx, entry); jerr != nil {
						log.Warn("journal: failed to record batch", slog.Any("error", jerr))
					}
				}
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}
				total += len(ids)
			}

			log.Info("ingestion complete", slog.Int("files", len(files)), slog.Int("items", total))
			fmt.Printf("Ingested %d documents from %d file(s)\n", total, len(files))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "JSONL input file to ingest (repeatable)")
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "Default content_type metadata for records that do not set one")

	return cmd
}

// readJSONL parses a JSONL ingest file into parallel text and metadata
// slices. Blank lines are skipped; a malformed line fails the whole file.
func readJSONL(path string) ([]string, []map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var texts []string
	var metas []map[string]any

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ingestLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, nil, fmt.Errorf("%s:%d: malformed JSON: %w", path, lineNo, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		texts = append(texts, rec.Text)
		metas = append(metas, rec.Metadata)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return texts, metas, nil
}
