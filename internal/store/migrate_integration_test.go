// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/agora-forum/agora/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("starts at version zero with everything pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Version).To(BeZero())
		Expect(status.Dirty).To(BeFalse())
		Expect(status.Pending).To(Equal([]uint{1, 2}))
	})

	It("applies, steps and rolls back", func() {
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())

		Expect(migrator.Up()).To(Succeed())
	})

	It("opens a pool against the migrated schema", func(ctx SpecContext) {
		pool, err := store.Open(ctx, connStr, 10*time.Second, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var n int
		err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM refresh_tokens`).Scan(&n)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("keeps usernames unique among non-deleted users only", func(ctx SpecContext) {
		pool, err := store.Open(ctx, connStr, 10*time.Second, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		insert := `INSERT INTO users (username, email, name, password_hash, is_deleted)
		           VALUES ($1, $2, 'n', 'h', $3)`
		_, err = pool.Exec(ctx, insert, "Dup", "dup1@agora.test", true)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insert, "dup", "dup2@agora.test", false)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insert, "DUP", "dup3@agora.test", false)
		Expect(err).To(MatchError(ContainSubstring("users_username_lower_key")))
	})

	It("rejects a local account without a password hash", func(ctx SpecContext) {
		pool, err := store.Open(context.Background(), connStr, 10*time.Second, nil)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		_, err = pool.Exec(ctx, `INSERT INTO users (username, email, name) VALUES ('nopw', 'nopw@agora.test', 'n')`)
		Expect(err).To(MatchError(ContainSubstring("users_local_password")))
	})
})
