package main

import (
	"bytes"
	"fmt"
	"io"
)

type table struct {
	data [][]string
}

func newTable(headers ...string) *table {
	return &table{data: [][]string{headers}}
}

func (t *table) add(cells ...string) *table {
	t.data = append(t.data, cells)
	return t
}

func (t *table) string() string {
	// get max cell lengths
	lengths := make([]int, len(t.data[0]))
	for _, row := range t.data {
		for i, cell := range row {
			lengths[i] = max(lengths[i], len(cell))
		}
	}

	// construct string
	buf := new(bytes.Buffer)
	for _, row := range t.data {
		for i, cell := range row {
			buf.WriteString(cell)
			if i < len(row)-1 {
				buf.Write(bytes.Repeat([]byte(" "), lengths[i]-len(cell)+3))
			}
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

func (t *table) print(w io.Writer) {
	_, _ = fmt.Fprint(w, t.string())
}
