package csvparser

import (
	"strings"
	"testing"
	"time"
)

func TestParseRecipients(t *testing.T) {
	input := strings.Join([]string{
		"Full Name,E-Mail,Birthday,Notes",
		"Ana,ana@x.com,1990-06-14,vip",
		"Bo,not-an-email,1990-06-14,",
		"Cy,cy@x.com,31/12/1985,",
		"Ana again,ANA@x.com,,",
		"Di,di@x.com,someday,",
		",ed@x.com,",
	}, "\n")

	got, err := ParseRecipients(strings.NewReader(input), Columns{Email: "e-mail", Name: "full name", DOB: "BIRTHDAY"}, 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 recipients, got %d: %+v", len(got), got)
	}

	if got[0].Email != "ana@x.com" || got[0].Name != "Ana" || got[0].DOB == nil {
		t.Errorf("unexpected first row: %+v", got[0])
	}
	if got[1].Email != "cy@x.com" || got[1].DOB == nil || got[1].DOB.Month() != time.December || got[1].DOB.Day() != 31 {
		t.Errorf("unexpected second row: %+v", got[1])
	}
	if got[2].Email != "di@x.com" || got[2].DOB != nil {
		t.Errorf("unparsable dob should be dropped: %+v", got[2])
	}
	if got[3].Email != "ed@x.com" || got[3].Name != "" {
		t.Errorf("unexpected short row: %+v", got[3])
	}
}

func TestParseRecipientsMissingColumn(t *testing.T) {
	_, err := ParseRecipients(strings.NewReader("name,phone\nAna,123\n"), Columns{}, 0)
	if err == nil || !strings.Contains(err.Error(), "name, phone") {
		t.Fatalf("expected missing column error listing headers, got %v", err)
	}

	if _, err := ParseRecipients(strings.NewReader(""), Columns{}, 0); err == nil {
		t.Fatal("expected error for empty csv")
	}
}

func TestParseRecipientsRespectsMaxRows(t *testing.T) {
	input := "email\na@x.com\nb@x.com\nc@x.com\n"

	got, err := ParseRecipients(strings.NewReader(input), Columns{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
}

func TestParseDOB(t *testing.T) {
	tests := []struct {
		in    string
		month time.Month
		day   int
		ok    bool
	}{
		{"2000-01-15", time.January, 15, true},
		{"15/01/2000", time.January, 15, true},
		{"01/15/2000", time.January, 15, true},
		{"03/04/2000", time.April, 3, true},
		{"2000/01/15", time.January, 15, true},
		{"15-01-2000", time.January, 15, true},
		{"01-15-2000", time.January, 15, true},
		{"2000-01-15 00:00:00", time.January, 15, true},
		{"1/5/2000", time.May, 1, true},
		{"soon", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDOB(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (got.Month() != tt.month || got.Day() != tt.day || got.Year() != 2000) {
				t.Errorf("got %v", got)
			}
		})
	}
}

func TestParseManual(t *testing.T) {
	got := ParseManual("a@x.com, b@x.com\nnope\n\nA@x.com;c@x.com")

	want := []string{"a@x.com", "b@x.com", "c@x.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i, w := range want {
		if got[i].Email != w {
			t.Errorf("recipient %d = %s, want %s", i, got[i].Email, w)
		}
	}
}
