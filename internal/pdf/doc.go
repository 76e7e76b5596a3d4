// Package pdf turns article PDFs into per-page JPEG images for the vision
// models by shelling out to poppler's pdftoppm.
package pdf
