package entity

import (
	"math"
	"sort"
	"strings"
)

// ValidateFragment checks structural well-formedness: non-empty speaker,
// non-empty text, and a finite timestamp. Malformed fragments are dropped
// at the ingest boundary without surfacing an error to the sender.
func ValidateFragment(f Fragment) bool {
	if strings.TrimSpace(f.Speaker) == "" {
		return false
	}
	if strings.TrimSpace(f.Text) == "" {
		return false
	}
	if math.IsNaN(f.Timestamp) || math.IsInf(f.Timestamp, 0) {
		return false
	}
	return true
}

// InsertTranscript places t into list keeping ascending (timestamp, seq)
// order. The seq tie-break keeps insertion stable for equal timestamps.
func InsertTranscript(list []Transcript, t Transcript) []Transcript {
	i := sort.Search(len(list), func(i int) bool {
		if list[i].Timestamp != t.Timestamp {
			return list[i].Timestamp > t.Timestamp
		}
		return list[i].Seq > t.Seq
	})

	list = append(list, Transcript{})
	copy(list[i+1:], list[i:])
	list[i] = t
	return list
}

// Block is a display unit: consecutive transcripts by the same speaker
// merged into one run. Timestamp is the first fragment's timestamp.
type Block struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// CoalesceBlocks folds consecutive same-speaker transcripts into blocks.
// Read-side only; the stored sequence is never mutated.
func CoalesceBlocks(list []Transcript) []Block {
	if len(list) == 0 {
		return nil
	}

	blocks := make([]Block, 0, len(list))
	var sb strings.Builder

	flush := func(speaker string, ts float64) {
		blocks = append(blocks, Block{
			Speaker:   speaker,
			Text:      sb.String(),
			Timestamp: ts,
		})
		sb.Reset()
	}

	speaker := list[0].Speaker
	ts := list[0].Timestamp
	sb.WriteString(list[0].Text)

	for _, t := range list[1:] {
		if t.Speaker != speaker {
			flush(speaker, ts)
			speaker = t.Speaker
			ts = t.Timestamp
			sb.WriteString(t.Text)
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(t.Text)
	}
	flush(speaker, ts)

	return blocks
}
