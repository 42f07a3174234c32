package exports

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"rwastaking/services/receipts"
)

func sampleReceipts() []receipts.Receipt {
	rec := receipts.Receipt{
		ID:         uuid.MustParse("6f1c2d1e-1f7a-4c53-9a55-1e2a9f0b3c4d"),
		Kind:       receipts.KindClaim,
		AssetID:    "bar-1",
		Account:    "rwa1account",
		Amount:     "115792089237316195423570985008687907853269984665640564039457584007913129639935",
		PoolAfter:  "0",
		LedgerTime: 42,
		CreatedAt:  time.Unix(1700, 0).UTC(),
	}
	rec.Checksum = rec.ComputeChecksum()
	return []receipts.Receipt{rec}
}

func TestReceiptsCSV(t *testing.T) {
	data, checksum, err := Receipts("CSV", sampleReceipts())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("unexpected checksum %q", checksum)
	}
	output := string(data)
	if !strings.HasPrefix(output, strings.Join(csvHeader, ",")) {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "bar-1,rwa1account,"+sampleReceipts()[0].Amount+",0,42,false") {
		t.Fatalf("amount truncated: %s", output)
	}
}

func TestReceiptsJSONL(t *testing.T) {
	data, _, err := Receipts(FormatJSONL, sampleReceipts())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, "\"ledger_time\":42") || !strings.HasSuffix(output, "\n") {
		t.Fatalf("unexpected payload: %s", output)
	}
	if strings.Contains(output, "purged") {
		t.Fatalf("false purged flag should be omitted: %s", output)
	}
}

func TestReceiptsParquet(t *testing.T) {
	data, checksum, err := Receipts(FormatParquet, sampleReceipts())
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("payload is not a parquet file")
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
}

func TestReceiptsRejectsUnknownFormat(t *testing.T) {
	if _, _, err := Receipts("xml", nil); err == nil {
		t.Fatalf("expected error")
	}
}
