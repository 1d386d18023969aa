// Package cos provides common low-level types and utilities for all rcm packages
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos_test

import (
	"errors"

	"github.com/NVIDIA/rcm/cmn/cos"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("UUID", func() {
	It("should generate valid UUIDs", func() {
		for i := 0; i < 100; i++ {
			uuid := cos.GenUUID()
			Expect(cos.IsValidUUID(uuid)).To(BeTrue(), uuid)
		}
	})

	It("should generate distinct UUIDs", func() {
		seen := make(map[string]bool, 1000)
		for i := 0; i < 1000; i++ {
			uuid := cos.GenUUID()
			Expect(seen).NotTo(HaveKey(uuid))
			seen[uuid] = true
		}
	})

	It("should generate 3-letter ties", func() {
		Expect(cos.GenTie()).To(HaveLen(3))
	})
})

var _ = Describe("Semaphore", func() {
	It("should count posts and waits", func() {
		sema := cos.NewSemaphore(2)
		Expect(sema.TryWait()).To(BeTrue())
		Expect(sema.TryWait()).To(BeTrue())
		Expect(sema.TryWait()).To(BeFalse())
		sema.Post()
		Expect(sema.TryWait()).To(BeTrue())
	})

	It("should wake a blocked waiter on post", func() {
		sema := cos.NewSemaphore(0)
		done := make(chan struct{})
		go func() {
			sema.Wait()
			close(done)
		}()
		sema.Post()
		Eventually(done).Should(BeClosed())
	})
})

var _ = Describe("Event", func() {
	It("should coalesce repeated posts", func() {
		ev := cos.NewEvent()
		ev.Post()
		ev.Post()
		ev.Wait()
		done := make(chan struct{})
		go func() {
			ev.Wait()
			close(done)
		}()
		Consistently(done).ShouldNot(BeClosed())
		ev.Post()
		Eventually(done).Should(BeClosed())
	})
})

var _ = Describe("Errs", func() {
	It("should deduplicate and join", func() {
		var errs cos.Errs
		errs.Add(errors.New("boom"))
		errs.Add(errors.New("boom"))
		errs.Add(errors.New("bang"))
		cnt, err := errs.JoinErr()
		Expect(cnt).To(Equal(2))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("StopCh", func() {
	It("should be idempotent", func() {
		stopCh := cos.NewStopCh()
		Expect(stopCh.Stopped()).To(BeFalse())
		stopCh.Close()
		stopCh.Close()
		Expect(stopCh.Stopped()).To(BeTrue())
		Eventually(stopCh.Listen()).Should(BeClosed())
	})
})
