package main

import (
	"bytes"
	"fmt"
	"io"
)

func printReply(w io.Writer, who string, i int, reply [][]byte) {
	if reply == nil {
		fmt.Fprintf(w, "%sRequest %d refused: broker overloaded\n", who, i)
		return
	}
	fmt.Fprintf(w, "%sReceived reply %d [%s]\n", who, i, bytes.Join(reply, []byte("|")))
}
