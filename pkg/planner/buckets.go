// Copyright 2025 Certen Protocol
//
// Per-bucket request application (spec §4.5 step 2): for each request in
// a bucket, call the matching C3 operation, and on success write its
// leaf witness to the proof store at a freshly-allocated input-witness
// job ID. A C3 validation failure is collected as a DroppedRequest and
// does not interrupt the bucket (spec §7); a proof-store write failure
// is a storage error and is fatal for the whole round.
package planner

import (
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
)

func leafID(checkpoint uint64, circuit jobid.CircuitType, bucket jobid.Bucket, taskIndex int) jobid.JobID {
	return jobid.JobID{
		Topic:       jobid.TopicJob,
		GoalID:      uint32(checkpoint),
		CircuitType: circuit,
		GroupID:     uint32(bucket),
		SubGroupID:  0,
		TaskIndex:   uint32(taskIndex),
		DataType:    jobid.DataTypeInputWitness,
	}
}

func (p *Planner) planRegisterUser(dag *dagBuilder, checkpoint uint64, reqs []RegisterUserRequest, nextUserID uint64) ([]jobid.JobID, uint64, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		userID := nextUserID
		delta, err := p.state.RegisterUser(checkpoint, userID, req.PublicKey)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketRegisterUser, Index: i, Err: err})
			continue
		}
		nextUserID++
		id := leafID(checkpoint, jobid.CircuitRegisterUser, jobid.BucketRegisterUser, len(leaves))
		w := &LeafWitness{
			CircuitType:  jobid.CircuitRegisterUser,
			Deltas:       []merkletree.DeltaProof{delta},
			RegisterUser: &RegisterUserWitness{UserID: userID, PublicKey: req.PublicKey},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, nextUserID, dropped, fmt.Errorf("planner: register_user[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, nextUserID, dropped, nil
}

func (p *Planner) planAddDeposit(dag *dagBuilder, checkpoint uint64, reqs []AddDepositRequest, nextDepositID uint64) ([]jobid.JobID, uint64, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		depositID := nextDepositID
		delta, err := p.state.AddDeposit(checkpoint, depositID, req.TxIDField, req.PublicKeyField, req.Value)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketAddDeposit, Index: i, Err: err})
			continue
		}
		nextDepositID++
		id := leafID(checkpoint, jobid.CircuitAddDeposit, jobid.BucketAddDeposit, len(leaves))
		w := &LeafWitness{
			CircuitType: jobid.CircuitAddDeposit,
			Deltas:      []merkletree.DeltaProof{delta},
			AddDeposit: &AddDepositWitness{
				DepositID:      depositID,
				TxIDField:      req.TxIDField,
				PublicKeyField: req.PublicKeyField,
				Value:          req.Value,
			},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, nextDepositID, dropped, fmt.Errorf("planner: add_deposit[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, nextDepositID, dropped, nil
}

func (p *Planner) planClaimDeposit(dag *dagBuilder, checkpoint uint64, reqs []ClaimDepositRequest) ([]jobid.JobID, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		result, err := p.state.ClaimDeposit(checkpoint, req.UserID, req.DepositID)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketClaimDeposit, Index: i, Err: err})
			continue
		}
		id := leafID(checkpoint, jobid.CircuitClaimDeposit, jobid.BucketClaimDeposit, len(leaves))
		w := &LeafWitness{
			CircuitType: jobid.CircuitClaimDeposit,
			Deltas:      []merkletree.DeltaProof{result.UserDelta, result.DepositDelta},
			ClaimDeposit: &ClaimDepositWitness{
				UserID:    req.UserID,
				DepositID: req.DepositID,
				Value:     result.Deposit.Value,
			},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, dropped, fmt.Errorf("planner: claim_deposit[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, dropped, nil
}

func (p *Planner) planTransfer(dag *dagBuilder, checkpoint uint64, reqs []TransferRequest) ([]jobid.JobID, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		result, err := p.state.Transfer(checkpoint, req.FromUser, req.ToUser, req.Value, req.Nonce)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketTransfer, Index: i, Err: err})
			continue
		}
		id := leafID(checkpoint, jobid.CircuitTransfer, jobid.BucketTransfer, len(leaves))
		w := &LeafWitness{
			CircuitType: jobid.CircuitTransfer,
			Deltas:      []merkletree.DeltaProof{result.FromDelta, result.ToDelta},
			Transfer: &TransferWitness{
				FromUser: req.FromUser,
				ToUser:   req.ToUser,
				Value:    req.Value,
				Nonce:    req.Nonce,
			},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, dropped, fmt.Errorf("planner: transfer[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, dropped, nil
}

func (p *Planner) planAddWithdrawal(dag *dagBuilder, checkpoint uint64, reqs []AddWithdrawalRequest, nextWithdrawalID uint64) ([]jobid.JobID, uint64, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		withdrawalID := nextWithdrawalID
		result, err := p.state.AddWithdrawal(checkpoint, withdrawalID, req.UserID, req.Address, req.AddressType, req.Value, req.Nonce)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketAddWithdrawal, Index: i, Err: err})
			continue
		}
		nextWithdrawalID++
		id := leafID(checkpoint, jobid.CircuitAddWithdrawal, jobid.BucketAddWithdrawal, len(leaves))
		w := &LeafWitness{
			CircuitType: jobid.CircuitAddWithdrawal,
			Deltas:      []merkletree.DeltaProof{result.UserDelta, result.WithdrawalDelta},
			Withdrawal: &WithdrawalWitness{
				WithdrawalID: withdrawalID,
				UserID:       req.UserID,
				Address:      req.Address,
				AddressType:  req.AddressType,
				Value:        req.Value,
			},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, nextWithdrawalID, dropped, fmt.Errorf("planner: add_withdrawal[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, nextWithdrawalID, dropped, nil
}

func (p *Planner) planProcessWithdrawal(dag *dagBuilder, checkpoint uint64, reqs []ProcessWithdrawalRequest) ([]jobid.JobID, []DroppedRequest, error) {
	var leaves []jobid.JobID
	var dropped []DroppedRequest
	for i, req := range reqs {
		delta, err := p.state.ProcessWithdrawal(checkpoint, req.WithdrawalID)
		if err != nil {
			dropped = append(dropped, DroppedRequest{Bucket: jobid.BucketProcessWithdrawal, Index: i, Err: err})
			continue
		}
		id := leafID(checkpoint, jobid.CircuitProcessWithdrawal, jobid.BucketProcessWithdrawal, len(leaves))
		w := &LeafWitness{
			CircuitType: jobid.CircuitProcessWithdrawal,
			Deltas:      []merkletree.DeltaProof{delta},
			Withdrawal:  &WithdrawalWitness{WithdrawalID: req.WithdrawalID, Processed: true},
		}
		if err := dag.writeLeaf(id, w); err != nil {
			return nil, dropped, fmt.Errorf("planner: process_withdrawal[%d]: %w", i, err)
		}
		leaves = append(leaves, id)
	}
	return leaves, dropped, nil
}
