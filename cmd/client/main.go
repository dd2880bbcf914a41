// Command client implements spec.md §6's CLI surface: submit a job to
// a node's gateway, then block on awaitResults, printing the final
// out_key -> out_value mapping. Exit codes follow spec.md §6 exactly:
// 0 on success, 1 on job failure, 2 on inability to reach any ring
// member.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	exitSuccess     = 0
	exitJobFailed   = 1
	exitUnreachable = 2
)

type submitRequest struct {
	Input     []kvJSON `json:"input"`
	MapFn     string   `json:"map_fn"`
	ReduceFn  string   `json:"reduce_fn"`
	NumReduce int      `json:"num_reduce"`
	MemoryCap int64    `json:"memory_cap,omitempty"`
}

type kvJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type submitResponse struct {
	JobID int64 `json:"job_id"`
}

func main() {
	var (
		gatewayAddr string
		mapFn       string
		reduceFn    string
		numReduce   int
		inputPath   string
		timeout     time.Duration
		memoryCap   int64
	)
	flag.StringVar(&gatewayAddr, "gateway", "http://127.0.0.1:8090", "gateway base URL")
	flag.StringVar(&mapFn, "map", "wordcount-map", "registered map_fn kernel name")
	flag.StringVar(&reduceFn, "reduce", "wordcount-reduce", "registered reduce_fn kernel name")
	flag.IntVar(&numReduce, "num-reduce", 0, "reduce task fan-out, 0 = ring size")
	flag.StringVar(&inputPath, "input", "", "path to a newline-delimited input file, default stdin")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for submit + awaitResults")
	flag.Int64Var(&memoryCap, "memory-cap", 0, "per-job intermediate storage cap in bytes, 0 = unbounded")
	flag.Parse()

	os.Exit(run(gatewayAddr, mapFn, reduceFn, numReduce, inputPath, timeout, memoryCap))
}

func run(gatewayAddr, mapFn, reduceFn string, numReduce int, inputPath string, timeout time.Duration, memoryCap int64) int {
	input, err := readInput(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: read input: %v\n", err)
		return exitUnreachable
	}

	client := &http.Client{Timeout: timeout}

	jobID, err := submit(client, gatewayAddr, input, mapFn, reduceFn, numReduce, memoryCap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: submit failed: %v\n", err)
		return exitUnreachable
	}
	fmt.Fprintf(os.Stderr, "client: job %d submitted\n", jobID)

	result, err := awaitResults(client, gatewayAddr, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: job failed: %v\n", err)
		return exitJobFailed
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "client: encode result: %v\n", err)
		return exitJobFailed
	}
	return exitSuccess
}

// readInput reads newline-delimited lines from path (or stdin if
// empty), numbering each with its line index as the in_key, matching
// spec.md §8's S1 word-count scenario shape.
func readInput(path string) ([]kvJSON, error) {
	f := os.Stdin
	if path != "" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
	}

	var lines []kvJSON
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		lines = append(lines, kvJSON{Key: fmt.Sprintf("%d", i), Value: scanner.Text()})
	}
	return lines, scanner.Err()
}

func submit(client *http.Client, gatewayAddr string, input []kvJSON, mapFn, reduceFn string, numReduce int, memoryCap int64) (int64, error) {
	body, err := json.Marshal(submitRequest{Input: input, MapFn: mapFn, ReduceFn: reduceFn, NumReduce: numReduce, MemoryCap: memoryCap})
	if err != nil {
		return 0, err
	}

	resp, err := client.Post(gatewayAddr+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.JobID, nil
}

func awaitResults(client *http.Client, gatewayAddr string, jobID int64) (map[string]string, error) {
	resp, err := client.Get(fmt.Sprintf("%s/jobs/%d/results", gatewayAddr, jobID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return nil, fmt.Errorf("%s", errBody.Error)
		}
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
