package funding

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/congo-pay/congo_ledger/internal/money"
)

type catalogFile struct {
	Rounds []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Company  string `yaml:"company"`
		Currency string `yaml:"currency"`
		Target   string `yaml:"target"`
		Deadline string `yaml:"deadline"`
	} `yaml:"rounds"`
}

// LoadCatalog reads round definitions from a YAML file.
func LoadCatalog(path string) ([]Round, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open round catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes round definitions. Targets are decimal strings in
// major units so they convert to minor units exactly.
func ParseCatalog(r io.Reader) ([]Round, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode round catalog: %w", err)
	}

	rounds := make([]Round, 0, len(file.Rounds))
	for i, entry := range file.Rounds {
		cur, err := money.Currency(entry.Currency)
		if err != nil {
			return nil, fmt.Errorf("round %d (%s): %w", i, entry.ID, err)
		}
		target, err := money.Parse(entry.Target, cur)
		if err != nil {
			return nil, fmt.Errorf("round %d (%s): target: %w", i, entry.ID, err)
		}
		deadline, err := parseDeadline(entry.Deadline)
		if err != nil {
			return nil, fmt.Errorf("round %d (%s): deadline: %w", i, entry.ID, err)
		}
		round := Round{
			ID:           entry.ID,
			Name:         entry.Name,
			Company:      entry.Company,
			Currency:     cur,
			TargetAmount: target,
			Deadline:     deadline,
		}
		if err := round.Validate(); err != nil {
			return nil, fmt.Errorf("round %d: %w", i, err)
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

func parseDeadline(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
