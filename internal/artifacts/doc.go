// Package artifacts moves task files in and out of the S3-compatible object
// store (MinIO in production).
//
// PDFs are read from {task}/pdfs/{filename} in the PDF bucket. Result tables
// are encoded as Parquet (default) or XLSX and written to
// {task}/parquets/{kind}_{stem}.{ext} in the table bucket. The object key is
// the reference persisted on the task document.
package artifacts
