package main

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func TestGenerateCodeLengthAndCharset(t *testing.T) {
	cases := []struct {
		name  string
		words []string
	}{
		{"empty corpus", nil},
		{"single word", []string{"BANANA"}},
		{"small corpus", []string{"POTATO", "PICKLE", "WAFFLE"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := newWordModel(tc.words)
			rng := testRand(42)

			for _, entropy := range []float64{0, 0.1, 0.5, 1} {
				for _, length := range []int{1, codeLength, 32} {
					code := generateCode(model, entropy, length, rng)

					if len(code) != length {
						t.Fatalf("entropy %v: got %d characters, want %d", entropy, len(code), length)
					}
					for i := 0; i < len(code); i++ {
						if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
							t.Fatalf("entropy %v: code %q contains %q", entropy, code, code[i])
						}
					}
				}
			}
		})
	}
}

func TestFullEntropyIsUniform(t *testing.T) {
	// At entropy 1 every modeled candidate is discarded, so the corpus must
	// not bias the output at all.
	model := newWordModel([]string{"BANANA", "POTATO"})
	rng := testRand(7)

	const perChar = 2000
	const samples = len(codeAlphabet) * perChar

	counts := make(map[byte]int)
	for i := 0; i < samples; i++ {
		counts[generateCode(model, 1, 1, rng)[0]]++
	}

	for i := 0; i < len(codeAlphabet); i++ {
		got := counts[codeAlphabet[i]]
		if got < perChar/2 || got > perChar*2 {
			t.Fatalf("character %q drawn %d times, want around %d", codeAlphabet[i], got, perChar)
		}
	}
}

func TestWordModelTransitions(t *testing.T) {
	model := newWordModel([]string{"ABC", "AB"})

	if got := model.next[0]; len(got) != 2 || got[0] != 'A' || got[1] != 'A' {
		t.Fatalf("start marker entries = %v, want two 'A's", got)
	}
	if got := model.next['A']; len(got) != 2 || got[0] != 'B' || got[1] != 'B' {
		t.Fatalf("successors of 'A' = %v, want two 'B's", got)
	}
	if got := model.next['B']; len(got) != 2 || got[0] != 'C' || got[1] != 0 {
		t.Fatalf("successors of 'B' = %v, want 'C' then end marker", got)
	}
	if got := model.next['C']; len(got) != 1 || got[0] != 0 {
		t.Fatalf("successors of 'C' = %v, want only the end marker", got)
	}
}

func TestChainFollowsModelAtZeroEntropy(t *testing.T) {
	// One possible word means one possible path: a fresh start draw yields
	// 'A', whose only successor is 'B', then 'C'. The first two emissions
	// are forced regardless of the randomness source.
	model := newWordModel([]string{"ABC"})

	for seed := uint64(0); seed < 10; seed++ {
		code := generateCode(model, 0, 2, testRand(seed))
		if code != "BC" {
			t.Fatalf("seed %d: got %q, want \"BC\"", seed, code)
		}
	}
}

func TestLoadWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	contents := "banana\n\nhéhé\nPotato\nwa ffle\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	words, err := loadWords(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(words) != 2 || words[0] != "BANANA" || words[1] != "POTATO" {
		t.Fatalf("got %v, want [BANANA POTATO]", words)
	}
}

func TestLoadWordsDefaults(t *testing.T) {
	words, err := loadWords("")
	if err != nil {
		t.Fatal(err)
	}
	if len(words) == 0 {
		t.Fatal("embedded word list is empty")
	}
	if model := newWordModel(words); len(model.next[0]) == 0 {
		t.Fatal("start marker entry is empty for a non-empty corpus")
	}
}
