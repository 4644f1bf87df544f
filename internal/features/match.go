package features

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"rgb-aligner/internal/cvmat"

	"gocv.io/x/gocv"
)

// HammingMatcher is a brute-force matcher for binary descriptors with a
// cross check: a pair survives only when each side is the other's nearest
// neighbour. Ties go to the lower index.
type HammingMatcher struct{}

// Match implements Matcher.
func (HammingMatcher) Match(ref, target *Set) ([]Match, error) {
	if ref.Empty() || target.Empty() {
		return nil, nil
	}
	if err := checkCompatible(ref, target); err != nil {
		return nil, err
	}

	n, m := ref.Len(), target.Len()
	fwd := make([]int, n)
	fwdDist := make([]int, n)
	bwd := make([]int, m)
	bwdDist := make([]int, m)
	for i := range fwdDist {
		fwdDist[i] = int(^uint(0) >> 1)
	}
	for j := range bwdDist {
		bwdDist[j] = int(^uint(0) >> 1)
	}

	for i, a := range ref.Descriptors {
		for j, b := range target.Descriptors {
			d := Hamming(a, b)
			if d < fwdDist[i] {
				fwdDist[i] = d
				fwd[i] = j
			}
			if d < bwdDist[j] {
				bwdDist[j] = d
				bwd[j] = i
			}
		}
	}

	var matches []Match
	for i, j := range fwd {
		if bwd[j] == i {
			matches = append(matches, Match{RefIndex: i, TargetIndex: j, Distance: fwdDist[i]})
		}
	}
	return matches, nil
}

// Hamming returns the number of differing bits between two equal-length
// descriptors.
func Hamming(a, b Descriptor) int {
	d := 0
	i := 0
	for ; i+8 <= len(a); i += 8 {
		d += bits.OnesCount64(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	for ; i < len(a); i++ {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d
}

// BFMatcher delegates cross-checked Hamming matching to OpenCV.
type BFMatcher struct{}

// Match implements Matcher.
func (BFMatcher) Match(ref, target *Set) ([]Match, error) {
	if ref.Empty() || target.Empty() {
		return nil, nil
	}
	if err := checkCompatible(ref, target); err != nil {
		return nil, err
	}

	query, err := cvmat.FromRows(descriptorRows(ref))
	if err != nil {
		return nil, fmt.Errorf("reference descriptors: %w", err)
	}
	defer query.Close()

	train, err := cvmat.FromRows(descriptorRows(target))
	if err != nil {
		return nil, fmt.Errorf("target descriptors: %w", err)
	}
	defer train.Close()

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer bf.Close()

	var matches []Match
	for _, candidates := range bf.KnnMatch(query, train, 1) {
		for _, m := range candidates {
			matches = append(matches, Match{
				RefIndex:    m.QueryIdx,
				TargetIndex: m.TrainIdx,
				Distance:    int(m.Distance),
			})
		}
	}
	return matches, nil
}

func descriptorRows(s *Set) [][]byte {
	rows := make([][]byte, len(s.Descriptors))
	for i, d := range s.Descriptors {
		rows[i] = d
	}
	return rows
}

func checkCompatible(ref, target *Set) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("reference set: %w", err)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("target set: %w", err)
	}
	if len(ref.Descriptors[0]) != len(target.Descriptors[0]) {
		return fmt.Errorf("descriptor length mismatch: %d vs %d",
			len(ref.Descriptors[0]), len(target.Descriptors[0]))
	}
	return nil
}
