// Package cli implements the uploader command line.
//
// Usage
//
//	uploader [flags] file...   queue files and upload until the queue drains
//	uploader [flags] status    print the queue summary and every job
//	uploader [flags] retry     requeue failed jobs and upload them
//	uploader [flags] clear     drop completed jobs
//
// The queue lives in the sqlite database named by -d, so an interrupted
// run resumes where it stopped. Progress is drawn as a bar when stdout is a
// terminal and as one line per status change otherwise. The exit code is 1
// when any job ended up failed, 130 when interrupted, 2 on usage errors.
package cli
