package etl

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Bronek/clio/pkg/ledger"
)

// maxLineSize bounds one ledger record in an import file.
const maxLineSize = 64 << 20

type fileObject struct {
	Index string `json:"index"`
	// Data is the hex blob; empty for a deletion.
	Data string `json:"data"`
}

type fileLedger struct {
	Sequence            uint32       `json:"ledger_index"`
	Hash                string       `json:"ledger_hash"`
	ParentHash          string       `json:"parent_hash"`
	TxHash              string       `json:"transaction_hash"`
	AccountHash         string       `json:"account_hash"`
	TotalCoins          string       `json:"total_coins"`
	CloseTime           uint32       `json:"close_time"`
	ParentCloseTime     uint32       `json:"parent_close_time"`
	CloseTimeResolution uint8        `json:"close_time_resolution"`
	CloseFlags          uint8        `json:"close_flags"`
	Objects             []fileObject `json:"objects"`
}

// ReadLedgers decodes a JSON-lines ledger file and calls fn for every
// ledger in file order. It stops at the first error.
func ReadLedgers(ctx context.Context, r io.Reader, fn func(ledger.Header, []ledger.Object) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec fileLedger
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		header, objects, err := rec.decode()
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(header, objects); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func (rec fileLedger) decode() (ledger.Header, []ledger.Object, error) {
	header := ledger.Header{
		Sequence:            rec.Sequence,
		CloseTime:           rec.CloseTime,
		ParentCloseTime:     rec.ParentCloseTime,
		CloseTimeResolution: rec.CloseTimeResolution,
		CloseFlags:          rec.CloseFlags,
	}

	var err error
	if header.Hash, err = ledger.ParseKey(rec.Hash); err != nil {
		return ledger.Header{}, nil, fmt.Errorf("ledger_hash: %w", err)
	}
	if header.ParentHash, err = optionalKey(rec.ParentHash); err != nil {
		return ledger.Header{}, nil, fmt.Errorf("parent_hash: %w", err)
	}
	if header.TxHash, err = optionalKey(rec.TxHash); err != nil {
		return ledger.Header{}, nil, fmt.Errorf("transaction_hash: %w", err)
	}
	if header.AccountHash, err = optionalKey(rec.AccountHash); err != nil {
		return ledger.Header{}, nil, fmt.Errorf("account_hash: %w", err)
	}
	if rec.TotalCoins != "" {
		if header.TotalCoins, err = strconv.ParseUint(rec.TotalCoins, 10, 64); err != nil {
			return ledger.Header{}, nil, fmt.Errorf("total_coins: %w", err)
		}
	}

	objects := make([]ledger.Object, 0, len(rec.Objects))
	for i, o := range rec.Objects {
		key, err := ledger.ParseKey(o.Index)
		if err != nil {
			return ledger.Header{}, nil, fmt.Errorf("objects[%d].index: %w", i, err)
		}
		blob, err := hex.DecodeString(o.Data)
		if err != nil {
			return ledger.Header{}, nil, fmt.Errorf("objects[%d].data: %w", i, err)
		}
		objects = append(objects, ledger.Object{Key: key, Blob: blob})
	}
	return header, objects, nil
}

func optionalKey(s string) (ledger.Key, error) {
	if s == "" {
		return ledger.Key{}, nil
	}
	return ledger.ParseKey(s)
}
