// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vocab maps between surface words and the integer token ids the
// decoder operates on.
package vocab

import (
	"fmt"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/util"
)

// Reserved token surface forms. A vocabulary may define any subset of
// these; Lookup falls back to the unknown token when a word is missing.
const (
	PadWord = "<pad>"
	UnkWord = "<unk>"
	EOSWord = "</s>"
)

// Vocabulary is an immutable word ↔ id table.
type Vocabulary struct {
	words []string
	index map[string]int32
	unk   int32
	eos   int32
}

// New builds a vocabulary from an ordered word list; the id of a word is
// its position in the list. Duplicate words are rejected.
func New(words []string) (*Vocabulary, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("vocab: empty word list")
	}

	index := make(map[string]int32, len(words))
	for i, w := range words {
		if w == "" {
			return nil, fmt.Errorf("vocab: empty word at id %d", i)
		}
		if prev, ok := index[w]; ok {
			return nil, fmt.Errorf("vocab: word %q appears at ids %d and %d", w, prev, i)
		}
		index[w] = int32(i)
	}

	v := &Vocabulary{words: append([]string(nil), words...), index: index, unk: -1, eos: -1}
	if id, ok := index[UnkWord]; ok {
		v.unk = id
	}
	if id, ok := index[EOSWord]; ok {
		v.eos = id
	}
	return v, nil
}

// Size returns the number of words in the vocabulary.
func (v *Vocabulary) Size() int { return len(v.words) }

// UnkID returns the id of the unknown token, or -1 if the vocabulary
// does not define one.
func (v *Vocabulary) UnkID() int32 { return v.unk }

// EOSID returns the id of the end-of-sentence token, or -1 if the
// vocabulary does not define one.
func (v *Vocabulary) EOSID() int32 { return v.eos }

// Lookup returns the id for a word. Unknown words map to the unknown
// token id; if the vocabulary has no unknown token, Lookup errors.
func (v *Vocabulary) Lookup(word string) (int32, error) {
	if id, ok := v.index[word]; ok {
		return id, nil
	}
	if v.unk >= 0 {
		return v.unk, nil
	}
	return 0, fmt.Errorf("vocab: unknown word %q and no %s token defined", word, UnkWord)
}

// Word returns the surface form for an id.
func (v *Vocabulary) Word(id int32) (string, error) {
	if id < 0 || int(id) >= len(v.words) {
		return "", fmt.Errorf("vocab: id %d out of range [0, %d)", id, len(v.words))
	}
	return v.words[id], nil
}

// Encode maps a whitespace-separated sentence to token ids.
func (v *Vocabulary) Encode(text string) ([]int32, error) {
	fields := strings.Fields(text)
	ids := make([]int32, 0, len(fields))
	for _, w := range fields {
		id, err := v.Lookup(w)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode maps token ids back to a sentence, skipping the trailing EOS
// marker if present.
func (v *Vocabulary) Decode(ids []int32) (string, error) {
	words := make([]string, 0, len(ids))
	for i, id := range ids {
		if id == v.eos && v.eos >= 0 && i == len(ids)-1 {
			break
		}
		w, err := v.Word(id)
		if err != nil {
			return "", err
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), nil
}

// Segmenter tokenizes raw text into vocabulary ids using WordPiece,
// so subword units within the table still resolve instead of collapsing
// whole words to the unknown token. Text is case-folded before lookup.
type Segmenter struct {
	tokenizer *tokenizer.Tokenizer
}

// NewSegmenter builds a WordPiece segmenter over the vocabulary. The
// vocabulary must define an unknown token.
func NewSegmenter(v *Vocabulary) (*Segmenter, error) {
	if v.unk < 0 {
		return nil, fmt.Errorf("vocab: segmenter requires a %s token", UnkWord)
	}

	wpVocab := make(model.Vocab, len(v.words))
	for i, w := range v.words {
		wpVocab[w] = i
	}

	opts := util.NewParams(map[string]any{
		"unk_token": UnkWord,
	})
	wp, err := wordpiece.New(wpVocab, opts)
	if err != nil {
		return nil, fmt.Errorf("vocab: creating wordpiece model: %w", err)
	}

	tk := tokenizer.NewTokenizer(wp)
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, false, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	return &Segmenter{tokenizer: tk}, nil
}

// Segment tokenizes text into vocabulary ids.
func (s *Segmenter) Segment(text string) ([]int32, error) {
	if text == "" {
		return nil, nil
	}

	enc, err := s.tokenizer.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("vocab: encoding text: %w", err)
	}

	ids := make([]int32, len(enc.Ids))
	for i, id := range enc.Ids {
		ids[i] = int32(id)
	}
	return ids, nil
}
