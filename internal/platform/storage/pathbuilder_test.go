package storage

import "testing"

func TestBuildInvoiceSnapshotPathUsesFullRef(t *testing.T) {
	path, err := BuildObjectPath(PurposeInvoiceSnapshot, PathParams{
		OrderID: "ord_123",
		FullRef: "INV-0042",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/invoices/ord_123/INV-0042.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildOrderExportPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeOrderExport, PathParams{
		Kind:     "estimate",
		OrderID:  "ord_9",
		FileName: "summary.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/exports/estimate/ord_9/summary.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsTraversal(t *testing.T) {
	_, err := BuildObjectPath(PurposeInvoiceSnapshot, PathParams{
		OrderID:  "../secret",
		FileName: "x.json",
	})
	if err == nil {
		t.Fatal("expected traversal error")
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	if _, err := BuildObjectPath(ObjectPurpose("nope"), PathParams{}); err == nil {
		t.Fatal("expected unsupported purpose error")
	}
}
