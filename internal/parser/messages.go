package parser

import (
	"errors"

	"signalgate/internal/domain"
)

// ParseMessages parses the output of signal-cli receive into messages, in
// input order. Envelopes are separated by blank lines; a final envelope
// without a trailing blank line is still returned. On any error the result
// is nil.
func ParseMessages(text string) ([]domain.Message, error) {
	var p messageParser
	for i, raw := range lines(text) {
		if err := p.feed(i+1, raw); err != nil {
			return nil, err
		}
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.out, nil
}

// messageParser holds the envelope currently being filled in.
type messageParser struct {
	current      *domain.Message
	hasTimestamp bool
	lineNo       int
	out          []domain.Message
}

func (p *messageParser) feed(lineNo int, raw string) error {
	p.lineNo = lineNo

	line, err := Classify(raw)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Line = lineNo
		}
		return err
	}

	switch line.Kind {
	case BlankTerminator:
		if p.current == nil {
			return nil
		}
		return p.close()

	case EnvelopeHeader:
		if p.current != nil {
			return newParseError(UnterminatedRecord, lineNo, raw)
		}
		p.current = &domain.Message{SenderNumber: line.Number, DeviceID: line.Device}
		p.hasTimestamp = false
		return nil

	case Unrecognized, IdentityEntry:
		return newParseError(UnexpectedLine, lineNo, raw)
	}

	if p.current == nil {
		return newParseError(RecordNotOpen, lineNo, raw)
	}

	switch line.Kind {
	case Timestamp:
		p.current.Timestamp = line.Millis
		p.hasTimestamp = true
	case MessageTimestamp:
		millis := line.Millis
		p.current.MessageTimestamp = &millis
	case ReceiptMarker:
		if p.current.Body != nil {
			return newParseError(ReceiptBodyConflict, lineNo, raw)
		}
		p.current.IsReceipt = true
	case Body:
		if p.current.IsReceipt {
			return newParseError(ReceiptBodyConflict, lineNo, raw)
		}
		text := line.Text
		p.current.Body = &text
	}
	return nil
}

// close finalizes the open envelope.
func (p *messageParser) close() error {
	if !p.hasTimestamp {
		return newParseError(MissingTimestamp, p.lineNo, "")
	}
	p.out = append(p.out, *p.current)
	p.current = nil
	p.hasTimestamp = false
	return nil
}

// finish accepts an envelope left open at end of input.
func (p *messageParser) finish() error {
	if p.current == nil {
		return nil
	}
	return p.close()
}
