// This file is part of Cavehook project, available at https://github.com/qrdl/cavehook
// Copyright (c) 2024-2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package console formats log entries as tagged, coloured lines for a terminal.
package console

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// SuccessField marks an info entry as a success report.
const SuccessField = "success"

var (
	infoTag    = color.New(color.FgCyan, color.Bold)
	successTag = color.New(color.FgGreen, color.Bold)
	warnTag    = color.New(color.FgYellow, color.Bold)
	errorTag   = color.New(color.FgRed, color.Bold)
	debugTag   = color.New(color.FgWhite)
)

// Formatter prints "[TAG] message key=value ..." lines.
type Formatter struct {
	// DisableColors suppresses escape sequences even on a terminal
	DisableColors bool
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	tag, c := f.tag(entry)
	if f.DisableColors {
		b.WriteString(tag)
	} else {
		b.WriteString(c.Sprint(tag))
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == SuccessField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}

func (f *Formatter) tag(entry *logrus.Entry) (string, *color.Color) {
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return "[ERROR]", errorTag
	case logrus.WarnLevel:
		return "[WARN]", warnTag
	case logrus.InfoLevel:
		if ok, _ := entry.Data[SuccessField].(bool); ok {
			return "[SUCCESS]", successTag
		}
		return "[INFO]", infoTag
	}
	return "[DEBUG]", debugTag
}

// New returns logger writing formatted entries to w.
func New(w io.Writer, level logrus.Level) *logrus.Logger {
	return &logrus.Logger{
		Out:       w,
		Formatter: &Formatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
	}
}

// Success logs msg as a success report.
func Success(l logrus.FieldLogger, format string, args ...interface{}) {
	l.WithField(SuccessField, true).Infof(format, args...)
}
