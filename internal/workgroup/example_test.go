// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workgroup_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sovereignproject/sovereign/internal/workgroup"
)

func ExampleGroup_Run() {
	var g workgroup.Group

	poller := func(stop <-chan struct{}) error {
		defer fmt.Println("poller stopped")
		<-time.After(100 * time.Millisecond)
		return fmt.Errorf("source unreachable")
	}
	g.Add(poller)

	scheduler := func(stop <-chan struct{}) error {
		defer fmt.Println("context scheduler stopped")
		<-stop
		return nil
	}
	g.Add(scheduler)

	err := g.Run(context.Background())
	fmt.Println(err)

	// Output:
	// poller stopped
	// context scheduler stopped
	// source unreachable
}

func ExampleGroup_Run_withCancellation() {
	var g workgroup.Group

	ctx, cancel := context.WithCancel(context.Background())

	g.Add(func(<-chan struct{}) error {
		<-ctx.Done()
		return fmt.Errorf("shutdown")
	})

	g.Add(func(stop <-chan struct{}) error {
		<-stop
		return fmt.Errorf("terminated")
	})

	go func() {
		<-time.After(100 * time.Millisecond)
		cancel()
	}()

	err := g.Run(ctx)
	fmt.Println(err)

	// Output:
	// shutdown
}

func ExampleGroup_Run_workerListener() {
	mux := http.NewServeMux()
	mux.HandleFunc("/client", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	var g workgroup.Group

	g.Add(func(stop <-chan struct{}) error {
		s := &http.Server{Addr: ":9080", Handler: mux}
		go func() {
			<-stop
			_ = s.Close()
		}()
		return s.ListenAndServe()
	})

	g.Run(context.Background()) // nolint:errcheck
}
