package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	Signed         bool
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	SigningKeyID   string
	ChainHash      string
	Error          string
}

// ReadFile reads every record of a trace file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a JSONL trace.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	scanner := newScanner(r)
	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		n++
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return out, fmt.Errorf("record %d: %w", n, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read trace: %w", err)
	}
	return out, nil
}

// VerifyFile verifies the hash chain and optional signature of a trace file.
func VerifyFile(path, key string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f, key)
}

// Verify checks hash chain integrity and, when key is set, the HMAC
// signature of the final test_run_finished record.
func Verify(r io.Reader, key string) (*VerifyResult, error) {
	scanner := newScanner(r)

	expectedPrevHash := genesis
	count := 0
	var last Record

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return &VerifyResult{
				EventCount: count,
				BrokenAt:   count,
				Error:      fmt.Sprintf("record %d: invalid JSON: %v", count, err),
			}, nil
		}
		if rec.PrevHash != expectedPrevHash {
			return &VerifyResult{
				EventCount: count,
				BrokenAt:   count,
				Error:      fmt.Sprintf("record %d: prev_hash mismatch (expected %s, got %s)", count, short(expectedPrevHash), short(rec.PrevHash)),
			}, nil
		}
		h := sha256.Sum256(line)
		expectedPrevHash = hex.EncodeToString(h[:])
		last = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	result := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if last.Type != events.TestRunFinished || last.Data == nil {
		return result, nil
	}
	chainHash, ok := last.Data["chain_hash"].(string)
	if !ok {
		return result, nil
	}
	result.ChainHash = chainHash
	if chainHash != last.PrevHash {
		result.Valid = false
		result.BrokenAt = count
		result.Error = "chain_hash does not match the trace"
		return result, nil
	}
	sig, ok := last.Data["signature"].(string)
	if !ok {
		return result, nil
	}
	result.Signed = true
	result.SigningKeyID, _ = last.Data["signing_key_id"].(string)
	if key == "" {
		result.SignatureNoKey = true
		return result, nil
	}
	result.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, chainHash)))
	return result, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line
	return scanner
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
