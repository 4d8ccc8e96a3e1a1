package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" Title ": " Engraving ",
			"Value":   " Ana ",
			"empty":   " ",
			" ":       "ignored",
		}

		expected := map[string]string{
			"Title": "Engraving",
			"Value": "Ana",
			"empty": "",
		}

		if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("keeps only allowed keys", func(t *testing.T) {
		input := map[string]string{" Title ": "Engraving", "Font": "serif", "Value": "Ana"}

		actual := NormalizeStringMap(input, "Title", "Value")
		expected := map[string]string{"Title": "Engraving", "Value": "Ana"}
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}

		if got := NormalizeStringMap(map[string]string{"Font": "serif"}, "Title"); got != nil {
			t.Fatalf("expected nil when nothing is allowed, got %#v", got)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}, "Title") != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}
