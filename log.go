/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shmipc

import (
	"sync"

	"go.uber.org/zap"
)

// This substrate treats resource exhaustion and reservation-discipline
// misuse as programming errors, per spec.md §7: "the substrate treats
// these as programming errors and terminates the process with an
// assertion message" / "there is no user-visible error string channel; a
// diagnostic goes to the standard error stream on fatal termination."
// zap gives that diagnostic structure (component, offsets, sizes) instead
// of a bare libc assert() string, which is the ambient logging idiom this
// module carries from its teacher's dependency tree (Tochemey-goakt uses
// go.uber.org/zap throughout).

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

func defaultLogger() *zap.Logger {
	loggerOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// SetLogger overrides the process-wide logger used for fatal diagnostics.
// Call it before creating any Pool/Ring/FanoutQueue if the default
// production JSON encoder isn't what the embedding application wants.
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	logger = l
}

// fatalf logs a structured fatal diagnostic and terminates the process,
// matching spec.md §7's category 1 (resource exhaustion) and the two
// fatal cases of category 4 (misuse): committing without reserving, and
// dequeueing on a producer-only handle.
func fatalf(msg string, fields ...zap.Field) {
	defaultLogger().Fatal(msg, fields...)
}

// zapErrField wraps a non-nil error for inclusion in a fatalf call.
func zapErrField(err error) zap.Field {
	return zap.Error(err)
}
