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

package nmt

import "math"

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

func matVec(w [][]float32, v []float32) []float32 {
	out := make([]float32, len(w))
	for i, row := range w {
		var sum float32
		for k, x := range v {
			sum += row[k] * x
		}
		out[i] = sum
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}

// attend computes softmax-normalized dot-product attention weights of a
// hidden state over the encoder states, scaled by 1/sqrt(hidden).
func attend(hidden []float32, encStates [][]float32) []float32 {
	scale := 1 / float32(math.Sqrt(float64(len(hidden))))
	scores := make([]float32, len(encStates))
	for j, enc := range encStates {
		scores[j] = dot(hidden, enc) * scale
	}
	return softmax(scores)
}

func softmax(x []float32) []float32 {
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float32, len(x))
	var sum float32
	for i, v := range x {
		e := float32(math.Exp(float64(v - maxv)))
		out[i] = e
		sum += e
	}
	inv := 1 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

func logSoftmax(x []float32) []float32 {
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxv))
	}
	logSum := float32(math.Log(sum)) + maxv
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = v - logSum
	}
	return out
}
