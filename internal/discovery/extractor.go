package discovery

import (
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"solana-copy-trader/internal/domain"
	"solana-copy-trader/internal/observability"
	"solana-copy-trader/internal/programs"
	"solana-copy-trader/internal/wire"
)

// Extractor turns decoded instructions into SwapEvents for one target
// wallet. Parsers are registered per program id.
type Extractor struct {
	parsers map[solana.PublicKey]InstructionParser
	logger  logrus.FieldLogger
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Logger logrus.FieldLogger
	// SkipDefaults leaves the registry empty.
	SkipDefaults bool
}

// NewExtractor creates an extractor with the pump.fun and Raydium v4
// parsers registered.
func NewExtractor(opts ExtractorOptions) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Extractor{
		parsers: make(map[solana.PublicKey]InstructionParser),
		logger:  logger.WithField("component", "extractor"),
	}
	if !opts.SkipDefaults {
		e.RegisterParser(programs.PumpFunProgramID, NewPumpFunParser())
		e.RegisterParser(programs.RaydiumV4ProgramID, NewRaydiumParser())
	}
	return e
}

// RegisterParser registers a parser for a program id, replacing any
// previous one.
func (e *Extractor) RegisterParser(programID solana.PublicKey, parser InstructionParser) {
	e.parsers[programID] = parser
}

// Programs returns the registered program ids.
func (e *Extractor) Programs() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(e.parsers))
	for id := range e.parsers {
		out = append(out, id)
	}
	return out
}

// Venues returns the distinct venues produced by registered parsers.
func (e *Extractor) Venues() []domain.Venue {
	seen := make(map[domain.Venue]struct{})
	var out []domain.Venue
	for _, p := range e.parsers {
		if _, ok := seen[p.Venue()]; ok {
			continue
		}
		seen[p.Venue()] = struct{}{}
		out = append(out, p.Venue())
	}
	return out
}

// Extract returns one event per qualifying instruction, in instruction
// order. An instruction qualifies when its program is registered, the
// target signs at the venue's signer position and the data decodes.
// Layout failures are logged and dropped.
func (e *Extractor) Extract(tx *wire.DecodedTransaction, target solana.PublicKey) []*domain.SwapEvent {
	if tx == nil {
		return nil
	}

	var events []*domain.SwapEvent
	for i := range tx.Instructions {
		ix := &tx.Instructions[i]

		parser, ok := e.parsers[ix.ProgramID]
		if !ok {
			continue
		}
		pos, ok := parser.SignerPosition(ix)
		if !ok || !ix.Accounts[pos].Equals(target) || !ix.IsSigner(pos) {
			continue
		}

		event, err := parser.Parse(tx, ix)
		if err != nil {
			if errors.Is(err, ErrNotSwap) {
				continue
			}
			observability.RecordSchemaMismatch(string(parser.Venue()))
			e.logger.WithFields(logrus.Fields{
				"signature":   tx.Signature.String(),
				"venue":       parser.Venue(),
				"instruction": ix.Index,
				"reason":      err.Error(),
			}).Warn("dropping instruction")
			continue
		}

		event.Slot = tx.Slot
		observability.RecordEventExtracted(string(event.Venue), event.Direction.String())
		events = append(events, event)
	}
	return events
}
