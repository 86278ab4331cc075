package ops

import (
	"log/slog"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/firehose"
	"github.com/c360/skystream/record"
	"github.com/c360/skystream/repo"
)

// Classifier turns commits into typed batches.
type Classifier struct {
	decoder *record.Decoder
	logger  *slog.Logger
}

// NewClassifier creates a classifier. Nil arguments use the package defaults.
func NewClassifier(decoder *record.Decoder, logger *slog.Logger) *Classifier {
	if decoder == nil {
		decoder = record.NewDecoder(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{decoder: decoder, logger: logger.With("component", "classifier")}
}

// Classify sorts evt's operations using the default record decoder.
func Classify(evt *firehose.Commit, logger *slog.Logger) *ByType {
	return NewClassifier(nil, logger).Classify(evt)
}

// Classify sorts evt's operations into batches, keeping commit order.
//
// Updates are skipped. A create is kept only when its CID resolves to a block in the
// commit's archive and the block decodes to the kind its collection implies; anything
// else is skipped without error. Deletes of the four known collections are always
// kept. Without an archive a commit yields deletes only.
func (c *Classifier) Classify(evt *firehose.Commit) *ByType {
	out := &ByType{}
	if evt == nil {
		return out
	}

	blocks, err := repo.ReadCAR(evt.Blocks)
	if err != nil {
		c.logger.Debug("Unreadable block archive, skipping creates",
			"repo", evt.Repo, "seq", evt.Seq, errors.Attr(err))
		blocks = nil
	}

	for _, op := range evt.Ops {
		kind, known := record.KindForCollection(op.Collection())
		uri := evt.URI(op)

		switch op.Action {
		case firehose.ActionUpdate:
			continue
		case firehose.ActionDelete:
			if known {
				out.addDelete(kind, DeleteOp{URI: uri, Source: op})
			}
		case firehose.ActionCreate:
			if !known || op.CID == nil {
				continue
			}
			raw, ok := blocks.Get(*op.CID)
			if !ok {
				c.logger.Debug("Skipping create", "uri", uri, errors.Attr(errors.ErrBlockNotFound))
				continue
			}
			rec, err := c.decoder.Decode(raw)
			if err != nil {
				if !errors.Is(err, record.ErrUnrecognized) {
					c.logger.Debug("Skipping undecodable record", "uri", uri, "error", err)
				}
				continue
			}
			if !out.addCreate(kind, uri, op.CID.String(), evt.Repo, rec, op) {
				c.logger.Debug("Record kind does not match its collection",
					"uri", uri, "kind", rec.Kind().String())
			}
		default:
			c.logger.Debug("Skipping operation",
				"uri", uri, errors.Attr(errors.WrapInvalid(errors.ErrUnsupportedAction, "classifier", "Classify", string(op.Action))))
		}
	}
	return out
}
