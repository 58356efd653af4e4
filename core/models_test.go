package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "short content", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	if IDFromContent("content1") == IDFromContent("content2") {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestID_StringRoundTrip(t *testing.T) {
	id := IDFromContent("round trip")
	s := id.String()
	if len(s) != 16 {
		t.Fatalf("String() length = %d, want 16", len(s))
	}
	parsed, err := ParseID(s)
	if err != nil {
		t.Fatalf("ParseID() error = %v", err)
	}
	if parsed != id {
		t.Errorf("ParseID(String()) = %v, want %v", parsed, id)
	}
	if _, err := ParseID("not-hex"); err == nil {
		t.Errorf("ParseID() accepted invalid input")
	}
}

func TestDerivedIDs(t *testing.T) {
	doc := DocumentID("acme", "uploads/acme/a.pdf", "sha:1")
	if doc != DocumentID("acme", "uploads/acme/a.pdf", "sha:1") {
		t.Fatal("DocumentID is not deterministic")
	}
	if doc == DocumentID("other", "uploads/acme/a.pdf", "sha:1") {
		t.Error("DocumentID ignores tenant")
	}
	if doc == DocumentID("acme", "uploads/acme/a.pdf", "sha:2") {
		t.Error("DocumentID ignores fingerprint")
	}

	p1 := ParentID(doc, 1)
	if p1 != ParentID(doc, 1) {
		t.Fatal("ParentID is not deterministic")
	}
	if p1 == ParentID(doc, 2) {
		t.Error("ParentID ignores page number")
	}

	c0 := ChildID(p1, 0)
	if c0 != ChildID(p1, 0) {
		t.Fatal("ChildID is not deterministic")
	}
	if c0 == ChildID(p1, 1) {
		t.Error("ChildID ignores span index")
	}
	if c0 == ChildID(ParentID(doc, 2), 0) {
		t.Error("ChildID ignores parent")
	}
}

func TestCompletion_Complete(t *testing.T) {
	tests := []struct {
		name string
		c    Completion
		want bool
	}{
		{"all pages done", Completion{PagesCompleted: 3, Expected: 3}, true},
		{"pages remaining", Completion{PagesCompleted: 2, Expected: 3}, false},
		{"zero expected", Completion{}, false},
		{"failure present", Completion{PagesCompleted: 2, PagesFailed: 1, Expected: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Complete(); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusStrings(t *testing.T) {
	if DocumentComplete.String() != "COMPLETE" || DocumentFailed.String() != "FAILED" {
		t.Error("unexpected document status names")
	}
	if !DocumentFailed.Terminal() || DocumentProcessing.Terminal() {
		t.Error("unexpected terminal classification")
	}
	if DispatchDispatched.String() != "DISPATCHED" {
		t.Error("unexpected dispatch state name")
	}
}

func TestPageTask_MessageID(t *testing.T) {
	task := PageTask{Tenant: "acme", DocumentId: 42, Page: 3}
	if got := task.MessageID(); got != "000000000000002a:3" {
		t.Errorf("MessageID() = %q", got)
	}
}
