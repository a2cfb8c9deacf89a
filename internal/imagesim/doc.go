// Package imagesim measures perceptual similarity between image files.
//
// Images are decoded (PNG, JPEG, GIF, WebP and BMP), the second image is
// resized to the size of the first, and the normalized cross-correlation of
// their RGB values is returned. The search engine uses it to drop
// near-identical variants from results.
package imagesim
