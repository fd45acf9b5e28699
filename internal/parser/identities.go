package parser

import "signalgate/internal/domain"

// ParseIdentities parses the output of signal-cli listIdentities, one
// identity per non-blank line, in input order. Any other line fails the
// whole call with MalformedIdentityLine.
func ParseIdentities(text string) ([]domain.Identity, error) {
	var ids []domain.Identity
	for i, raw := range lines(text) {
		if raw == "" {
			continue
		}
		line, err := Classify(raw)
		if err != nil || line.Kind != IdentityEntry {
			return nil, newParseError(MalformedIdentityLine, i+1, raw)
		}
		ids = append(ids, line.Identity)
	}
	return ids, nil
}
