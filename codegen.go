// Room codes are meant to be typed out loud across a couch, so instead of
// fully random strings we sample from a first-order letter transition model
// built from a word list. The result reads like a word ("BANETTEO") while
// still covering enough of the code space to keep collisions rare.

package main

import (
	"bufio"
	"bytes"
	_ "embed"
	"math/rand/v2"
	"os"
)

//go:embed words/default_words.txt
var defaultWords []byte

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// wordModel maps each letter to every letter observed directly after it in
// the corpus. Index 0 is the start marker, holding the first letter of every
// word; a 0 byte inside a successor list marks the end of a word. Immutable
// once built.
type wordModel struct {
	next [128][]byte
}

func newWordModel(words []string) *wordModel {
	m := &wordModel{}
	for _, word := range words {
		m.add(word)
	}
	return m
}

func (m *wordModel) add(word string) {
	prev := byte(0)
	for i := 0; i < len(word); i++ {
		c := word[i]
		if c >= 128 {
			continue
		}
		m.next[prev] = append(m.next[prev], c)
		prev = c
	}
	m.next[prev] = append(m.next[prev], 0)
}

// pick draws uniformly from the successors of key. Returns 0 when the set is
// empty or the draw lands on an end-of-word marker.
func (m *wordModel) pick(key byte, rng *rand.Rand) byte {
	set := m.next[key]
	if len(set) == 0 {
		return 0
	}
	return set[rng.IntN(len(set))]
}

// chain produces an infinite stream of code characters biased toward the
// model's transitions. A chain is cheap and single-use: one per generation
// attempt.
type chain struct {
	model   *wordModel
	entropy float64
	current byte
	rng     *rand.Rand
}

func newChain(model *wordModel, entropy float64, rng *rand.Rand) *chain {
	return &chain{
		model:   model,
		entropy: entropy,
		rng:     rng,
	}
}

// next emits one character. The candidate is the last emitted character, or a
// fresh draw from the start marker; with probability entropy the candidate is
// discarded outright. A surviving candidate is followed through the model,
// and whenever that yields nothing (end-of-word marker, empty set, discarded
// candidate) a uniform draw from the code alphabet takes its place.
func (ch *chain) next() byte {
	candidate := ch.current
	if candidate == 0 {
		candidate = ch.model.pick(0, ch.rng)
	}

	if candidate != 0 && ch.rng.Float64() <= ch.entropy {
		candidate = 0
	}

	var out byte
	if candidate != 0 {
		out = ch.model.pick(candidate, ch.rng)
	}
	if out == 0 {
		out = codeAlphabet[ch.rng.IntN(len(codeAlphabet))]
	}

	ch.current = out

	return out
}

func generateCode(model *wordModel, entropy float64, length int, rng *rand.Rand) string {
	ch := newChain(model, entropy, rng)

	code := make([]byte, length)
	for i := range code {
		code[i] = ch.next()
	}
	return string(code)
}

// loadWords reads the code word corpus from path, or from the embedded
// default list when path is empty. One word per line; blank lines and lines
// containing anything but ASCII letters are skipped, and words are
// upper-cased so generated codes stay within the code alphabet.
func loadWords(path string) ([]string, error) {
	data := defaultWords

	if path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = contents
	}

	var words []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		word := scanner.Bytes()
		if len(word) == 0 {
			continue
		}

		ok := true
		for i, c := range word {
			switch {
			case c >= 'a' && c <= 'z':
				word[i] = c - 'a' + 'A'
			case c >= 'A' && c <= 'Z':
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if !ok {
			continue
		}

		words = append(words, string(word))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return words, nil
}
