// Package task runs enhancement jobs on a fixed pool of worker slots.
//
// Each slot processes one job at a time: it dequeues an entry, claims the
// job in the store (queued -> processing), runs the enhancer outside any
// lock while writing milestone progress, and ends every job through a
// single terminal write. Slots recycle their enhancer after a configured
// number of jobs or when process memory crosses a threshold, and only
// then accept new work.
//
// The pool also recovers jobs left behind by a previous process and
// force-fails jobs stuck in processing.
package task
