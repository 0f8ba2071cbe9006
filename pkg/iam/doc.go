// Package iam is the identity, authorization and tenant-resolution core of a
// multi-tenant CMS.
//
// # Overview
//
// The sub-packages follow one layout: the domain package declares entities,
// an errx registry and repository ports; "<name>infra" implements the ports on
// Postgres or Redis; "<name>srv" holds the services; "<name>api" binds them to
// fiber.
//
//   - iam/credential  : argon2id password and backup-code hashing
//   - iam/auth        : JWT issuer, deny-list, guards, the auth orchestrator
//   - iam/otp         : TOTP and backup codes for two-factor sign-in
//   - iam/subdomain   : subdomain normalization, validation and host resolution
//   - iam/organization: tenants
//   - iam/user        : members, unique per organization
//   - iam/rbac        : roles, permissions, assignments and the resolver
//   - iam/invitation  : email and shareable-link invitations
//   - iam/iamnotify   : transactional emails, sent best-effort
//   - iam/iammemory   : in-memory repositories for development and tests
//   - iam/iamcontainer: wiring
//
// # Request flow
//
//	host → ResolveTenant → Authenticate → RequireTenantMatch → RequirePermissions → handler
//
// ResolveTenant never fails a request: a host without a known subdomain
// simply carries no tenant. Authenticate verifies an access token and checks
// the deny-list. RequireTenantMatch rejects an identity whose organization is
// not the resolved tenant before any permission is evaluated.
//
// # Sessions
//
// Access tokens live 15 minutes and refresh tokens 30 days, signed with
// separate secrets. A user with two-factor enabled first receives a 5 minute
// step-up token that only the second-factor endpoint accepts. Refreshing
// rotates the pair and revokes the old refresh token; logout revokes both.
//
// Five consecutive failed sign-ins lock the account for 30 minutes. The
// counter is kept by a single conditional UPDATE so concurrent attempts
// cannot skip the threshold.
//
// # Authorization
//
// A user's permissions are the union of the permission slugs of every role
// reached through an active, unexpired assignment. Single checks are cached
// per user and permission; every write that changes a role's permissions or
// a user's assignments clears the affected users' entries before returning.
// Role hierarchy is flat; rbac.HierarchyExpander is where inheritance would
// plug in.
package iam
