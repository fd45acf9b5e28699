package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"signalgate/internal/domain"
)

// LineKind is the grammatical role of one line of signal-cli output.
type LineKind int

const (
	Unrecognized LineKind = iota
	EnvelopeHeader
	Timestamp
	MessageTimestamp
	ReceiptMarker
	Body
	BlankTerminator
	IdentityEntry
)

func (k LineKind) String() string {
	switch k {
	case EnvelopeHeader:
		return "envelope"
	case Timestamp:
		return "timestamp"
	case MessageTimestamp:
		return "message timestamp"
	case ReceiptMarker:
		return "receipt"
	case Body:
		return "body"
	case BlankTerminator:
		return "blank"
	case IdentityEntry:
		return "identity"
	default:
		return "unrecognized"
	}
}

// Line is a classified line. Only the fields relevant to Kind are set.
type Line struct {
	Kind     LineKind
	Number   string // EnvelopeHeader
	Device   int    // EnvelopeHeader
	Millis   int64  // Timestamp, MessageTimestamp
	Text     string // Body
	Identity domain.Identity
}

const (
	receiptLine = "Got receipt."
	bodyPrefix  = "Body: "

	// Date layout of the "Added:" field (java.util.Date#toString).
	addedLayout = "Mon Jan 2 15:04:05 MST 2006"

	isoMillis = `[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}\.[0-9]{3}Z`
	hexPair   = `[0-9A-Fa-f]{2}`
	fiveDigit = `[0-9]{5}`
)

var (
	envelopeRe         = regexp.MustCompile(`^Envelope from: (\+[0-9]+) \(device: ([0-9]+)\)$`)
	timestampRe        = regexp.MustCompile(`^Timestamp: ([0-9]+) \(` + isoMillis + `\)$`)
	messageTimestampRe = regexp.MustCompile(`^Message timestamp: ([0-9]+) \(` + isoMillis + `\)$`)

	// The double space before "Safety Number:" is part of signal-cli's format.
	identityRe = regexp.MustCompile(`^(\+[0-9]+): (UNTRUSTED|TRUSTED_UNVERIFIED|TRUSTED_VERIFIED)` +
		` Added: ((?:Mon|Tue|Wed|Thu|Fri|Sat|Sun) (?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) [0-9]{1,2} [0-9]{2}:[0-9]{2}:[0-9]{2} \S+ [0-9]+)` +
		` Fingerprint: ((?:` + hexPair + ` ){32}` + hexPair + `)` +
		`  Safety Number: ((?:` + fiveDigit + ` ){11}` + fiveDigit + `)$`)
)

// Classify matches one line, without its trailing newline, against the
// receive and listIdentities grammars. Lines matching neither come back as
// Unrecognized with a nil error; it is up to the caller whether that is
// fatal. An error is returned only for lines that match a grammar shape but
// carry an out-of-range number.
func Classify(line string) (Line, error) {
	switch {
	case line == "":
		return Line{Kind: BlankTerminator}, nil
	case line == receiptLine:
		return Line{Kind: ReceiptMarker}, nil
	case strings.HasPrefix(line, bodyPrefix):
		return Line{Kind: Body, Text: strings.TrimPrefix(line, bodyPrefix)}, nil
	}

	if m := envelopeRe.FindStringSubmatch(line); m != nil {
		device, err := strconv.Atoi(m[2])
		if err != nil {
			return Line{}, newParseError(UnexpectedLine, 0, line)
		}
		return Line{Kind: EnvelopeHeader, Number: m[1], Device: device}, nil
	}
	if m := timestampRe.FindStringSubmatch(line); m != nil {
		millis, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Line{}, newParseError(UnexpectedLine, 0, line)
		}
		return Line{Kind: Timestamp, Millis: millis}, nil
	}
	if m := messageTimestampRe.FindStringSubmatch(line); m != nil {
		millis, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Line{}, newParseError(UnexpectedLine, 0, line)
		}
		return Line{Kind: MessageTimestamp, Millis: millis}, nil
	}
	if m := identityRe.FindStringSubmatch(line); m != nil {
		status, err := domain.ParseTrustStatus(m[2])
		if err != nil {
			return Line{}, newParseError(MalformedIdentityLine, 0, line)
		}
		id := domain.Identity{
			Number:       m[1],
			TrustStatus:  status,
			Added:        m[3],
			Fingerprint:  domain.Fingerprint(m[4]),
			SafetyNumber: domain.SafetyNumber(m[5]),
		}
		id.AddedAt = parseAdded(m[3])
		return Line{Kind: IdentityEntry, Identity: id}, nil
	}
	return Line{Kind: Unrecognized}, nil
}

// parseAdded parses the "Added:" date, which signal-cli prints with a zone
// abbreviation. time.Parse gives abbreviations it cannot resolve a zero
// offset, so the result is kept only for UTC, GMT and abbreviations of the
// local zone; anything else yields the zero time.
func parseAdded(s string) time.Time {
	t, err := time.ParseInLocation(addedLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	switch name, _ := t.Zone(); {
	case t.Location() == time.UTC, t.Location() == time.Local, name == "GMT":
		return t
	}
	return time.Time{}
}

// lines yields each line of text with its line terminator removed.
// A trailing newline does not produce an extra empty line.
func lines(text string) []string {
	var out []string
	for line := range strings.Lines(text) {
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		out = append(out, line)
	}
	return out
}
