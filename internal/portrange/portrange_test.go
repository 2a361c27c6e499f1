package portrange

import (
	"reflect"
	"testing"
)

func TestParseSinglePort(t *testing.T) {
	got, err := Parse("54543")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{54543}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseList(t *testing.T) {
	got, err := Parse("80, 443,8080")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{80, 443, 8080}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseRangeInclusive(t *testing.T) {
	got, err := Parse("8000-8003")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{8000, 8001, 8002, 8003}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseRejectsBackwardsRange(t *testing.T) {
	if _, err := Parse("8003-8000"); err == nil {
		t.Fatal("expected error for backwards range")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-port"); err == nil {
		t.Fatal("expected error for garbage input")
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}
