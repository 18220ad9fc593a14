package storage

import "testing"

func TestBuildIdentityDocumentPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeIdentityDocument, PathParams{
		SessionID: "sess123",
		FileName:  "license.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "uploads/sessions/sess123/license.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReceiptPathUsesInvoiceNumber(t *testing.T) {
	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:       "RG-BC202601-1234567",
		InvoiceNumber: "INV-2026-001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/RG-BC202601-1234567/receipts/INV-2026-001.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestSessionPrefix(t *testing.T) {
	prefix, err := SessionPrefix("sess123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prefix != "uploads/sessions/sess123/" {
		t.Fatalf("unexpected prefix %s", prefix)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeIdentityDocument, PathParams{
		SessionID: "../bad",
		FileName:  "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
