package domain

import (
	"errors"
	"testing"
	"time"
)

func testRegistry() *RecordTypeRegistry {
	return NewRecordTypeRegistry(
		&RecordType{Name: "Page", Parents: []string{"SiteTree"}, Table: "page", LiveTable: "page_live", SupportsPublishing: true},
		&RecordType{Name: "NewsPage", Parents: []string{"Page"}, Table: "page", LiveTable: "page_live", SupportsPublishing: true},
		&RecordType{Name: "File", Parents: []string{"DataObject"}, Table: "file"},
	)
}

func TestRecordTypeRegistry_Get(t *testing.T) {
	reg := testRegistry()

	rt, err := reg.Get("NewsPage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.SourceTable() != "page_live" {
		t.Errorf("expected live table, got %s", rt.SourceTable())
	}

	_, err = reg.Get("Missing")
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Errorf("expected ErrUnknownRecordType, got %v", err)
	}
}

func TestRecordTypeRegistry_Ancestry(t *testing.T) {
	reg := testRegistry()

	got := reg.Ancestry("NewsPage")
	want := []string{"NewsPage", "Page"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestRecordTypeRegistry_IsLinked(t *testing.T) {
	reg := testRegistry()

	tests := []struct {
		record string
		linked string
		want   bool
	}{
		{"NewsPage", "Page", true},
		{"NewsPage", "NewsPage", true},
		{"Page", "NewsPage", false},
		{"File", "Page", false},
		{"Page", "SiteTree", false},
		{"File", "DataObject", false},
	}

	for _, tt := range tests {
		t.Run(tt.record+"->"+tt.linked, func(t *testing.T) {
			if got := reg.IsLinked(tt.record, tt.linked); got != tt.want {
				t.Errorf("IsLinked(%s, %s) = %v, want %v", tt.record, tt.linked, got, tt.want)
			}
		})
	}
}

func TestRecordTypeRegistry_Descendants(t *testing.T) {
	reg := testRegistry()

	got := reg.Descendants("Page")
	if len(got) != 2 || got[0] != "NewsPage" || got[1] != "Page" {
		t.Errorf("expected [NewsPage Page], got %v", got)
	}
}

func TestRecordType_SourceTable(t *testing.T) {
	rt := &RecordType{Name: "File", Table: "file", LiveTable: "file_live"}
	if rt.SourceTable() != "file" {
		t.Errorf("expected default table when publishing unsupported, got %s", rt.SourceTable())
	}
}

func TestTimeValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  any
		wantOK bool
	}{
		{"time", ts, true},
		{"zero time", time.Time{}, false},
		{"nil", nil, false},
		{"datetime string", "2024-03-01 10:00:00", true},
		{"date string", "2024-03-01", true},
		{"bytes", []byte("2024-03-01"), true},
		{"garbage", "not a date", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := TimeValue(StoredValue{Kind: StorageDatetime, Value: tt.value})
			if ok != tt.wantOK {
				t.Errorf("expected ok=%v, got %v", tt.wantOK, ok)
			}
		})
	}
}

func TestRow(t *testing.T) {
	row := &Row{ID: 12, Type: "Page", Fields: map[string]StoredValue{
		"Title": {Kind: StorageText, Value: "Hello"},
	}}

	if IDString(row) != "12" {
		t.Errorf("expected id 12, got %s", IDString(row))
	}
	if _, ok := row.StoredField("Missing"); ok {
		t.Error("expected missing field to report ok=false")
	}
	v, ok := row.StoredField("Title")
	if !ok || v.Value != "Hello" {
		t.Errorf("expected Title Hello, got %v", v.Value)
	}
}
