package catset

import (
	"image"

	"github.com/corona10/goimagehash"
)

// dedupThreshold is the maximum Hamming distance between two dHash values
// below which images are considered perceptually identical.
const dedupThreshold = 10

// dedupImages returns the indexes of images that are not perceptual
// duplicates of an earlier image in the slice. Reddit galleries and their
// preview often yield the same picture twice. Images that cannot be hashed are kept.
func dedupImages(images []image.Image) []int {
	keep := make([]int, 0, len(images))
	var seen []*goimagehash.ImageHash

	for i, img := range images {
		hash, err := goimagehash.DifferenceHash(img)
		if err != nil {
			keep = append(keep, i)
			continue
		}
		dup := false
		for _, h := range seen {
			if dist, err := hash.Distance(h); err == nil && dist < dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen = append(seen, hash)
		keep = append(keep, i)
	}
	return keep
}
