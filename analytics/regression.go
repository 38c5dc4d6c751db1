// Copyright 2025 The GrepWise Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package analytics

// line is a least-squares fit of count over bucket index.
type line struct {
	slope     float64
	intercept float64
	rSquared  float64
}

func (l line) at(x float64) float64 {
	return l.slope*x + l.intercept
}

// fitLine regresses counts against their indices 0..n-1. A single bucket
// fits a flat line with zero confidence.
func fitLine(counts []int) line {
	n := float64(len(counts))
	if len(counts) == 0 {
		return line{}
	}
	if len(counts) == 1 {
		return line{intercept: float64(counts[0])}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, c := range counts {
		x, y := float64(i), float64(c)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return line{intercept: sumY / n}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// R^2 = 1 - SSres/SStot. A flat series fits itself exactly.
	meanY := sumY / n
	var ssRes, ssTot float64
	for i, c := range counts {
		y := float64(c)
		predicted := slope*float64(i) + intercept
		ssRes += (y - predicted) * (y - predicted)
		ssTot += (y - meanY) * (y - meanY)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return line{slope: slope, intercept: intercept, rSquared: r2}
}
